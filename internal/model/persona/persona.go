package persona

// 内置角色标识
const (
	AssistantID = "assistant"
	HostID      = "host"
	GuestID     = "guest"
)

// 角色在对话中的分工
const (
	RoleAssistant = "assistant"
	RoleHost      = "host"
	RoleGuest     = "guest"
)

// Persona captures the instruction set that conditions one voice session.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Instructions string `json:"instructions"`
}

// Seed provides the built-in personas used by the assistant and podcast workers.
func Seed() []Persona {
	return []Persona{
		{
			ID:           AssistantID,
			Name:         "Assistant",
			Role:         RoleAssistant,
			Instructions: "You are a helpful voice AI assistant.",
		},
		{
			ID:   HostID,
			Name: "Abbie",
			Role: RoleHost,
			Instructions: "You are Abbie, the warm and curious host of a live voice podcast. " +
				"You interview a guest in front of a listening audience. Ask one clear question at a time, " +
				"react briefly to the previous answer, and keep every turn under three sentences. " +
				"Never answer your own questions.",
		},
		{
			ID:   GuestID,
			Name: "Rainforest",
			Role: RoleGuest,
			Instructions: "You are Rainforest, an enthusiastic expert guest on a live voice podcast. " +
				"Answer the host's latest question directly with one concrete example, " +
				"speak naturally, and keep every answer under four sentences. Do not ask the host questions.",
		},
	}
}
