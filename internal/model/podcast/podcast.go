package podcast

import "time"

// Poster 发布节目的用户。
type Poster struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Podcast 目录中的一档节目。
type Podcast struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Host         string    `json:"host"`
	Category     string    `json:"category"`
	Participants int       `json:"participants"`
	Likes        int       `json:"likes"`
	Comments     int       `json:"comments"`
	Image        string    `json:"image"`
	Poster       Poster    `json:"poster"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Update 部分更新，nil 字段保持原值。
type Update struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Host         *string `json:"host,omitempty"`
	Category     *string `json:"category,omitempty"`
	Participants *int    `json:"participants,omitempty"`
	Likes        *int    `json:"likes,omitempty"`
	Comments     *int    `json:"comments,omitempty"`
	Image        *string `json:"image,omitempty"`
	Poster       *Poster `json:"poster,omitempty"`
}

// Apply 把更新写到节目上。
func (u Update) Apply(p *Podcast) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Host != nil {
		p.Host = *u.Host
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.Participants != nil {
		p.Participants = *u.Participants
	}
	if u.Likes != nil {
		p.Likes = *u.Likes
	}
	if u.Comments != nil {
		p.Comments = *u.Comments
	}
	if u.Image != nil {
		p.Image = *u.Image
	}
	if u.Poster != nil {
		p.Poster = *u.Poster
	}
}

const placeholderImage = "/api/placeholder/300/200"

func avatar(seed string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + seed
}

// Defaults 初始目录。
func Defaults() []Podcast {
	return []Podcast{
		{
			ID:           "1",
			Title:        "Tech Talk with AI Sarah",
			Description:  "Dive deep into the latest technology trends, startups, and innovation with Sarah, an AI expert who's been following the tech scene for years.",
			Host:         "AI Sarah",
			Category:     "Technology",
			Participants: 1247,
			Likes:        324,
			Comments:     89,
			Image:        placeholderImage,
			Poster:       Poster{Name: "Alex Chen", Avatar: avatar("alex")},
		},
		{
			ID:           "2",
			Title:        "The Philosophy Corner",
			Description:  "Explore life's biggest questions with Marcus, an AI philosopher who loves debating ethics, consciousness, and the meaning of existence.",
			Host:         "AI Marcus",
			Category:     "Philosophy",
			Participants: 892,
			Likes:        198,
			Comments:     156,
			Image:        placeholderImage,
			Poster:       Poster{Name: "Maya Rodriguez", Avatar: avatar("maya")},
		},
		{
			ID:           "3",
			Title:        "Creative Writing Workshop",
			Description:  "Join Luna for interactive storytelling sessions where you collaborate to create amazing stories, poems, and creative pieces.",
			Host:         "AI Luna",
			Category:     "Arts & Creativity",
			Participants: 643,
			Likes:        445,
			Comments:     73,
			Image:        placeholderImage,
			Poster:       Poster{Name: "Jordan Kim", Avatar: avatar("jordan")},
		},
		{
			ID:           "4",
			Title:        "Business Strategy Sessions",
			Description:  "Get insights on entrepreneurship, business strategy, and market analysis from Alex, an AI with extensive business knowledge.",
			Host:         "AI Alex",
			Category:     "Business",
			Participants: 1089,
			Likes:        267,
			Comments:     124,
			Image:        placeholderImage,
			Poster:       Poster{Name: "Sam Taylor", Avatar: avatar("sam")},
		},
		{
			ID:           "5",
			Title:        "Science Discoveries",
			Description:  "Explore the latest scientific breakthroughs, space exploration, and fascinating discoveries with Dr. Nova, your AI science guide.",
			Host:         "AI Dr. Nova",
			Category:     "Science",
			Participants: 756,
			Likes:        512,
			Comments:     98,
			Image:        placeholderImage,
			Poster:       Poster{Name: "Dr. Riley Park", Avatar: avatar("riley")},
		},
		{
			ID:           "6",
			Title:        "Mental Wellness Chat",
			Description:  "A supportive space to discuss mental health, mindfulness, and personal growth with Zen, a compassionate AI counselor.",
			Host:         "AI Zen",
			Category:     "Health & Wellness",
			Participants: 934,
			Likes:        389,
			Comments:     167,
			Image:        placeholderImage,
			Poster:       Poster{Name: "Casey Morgan", Avatar: avatar("casey")},
		},
	}
}
