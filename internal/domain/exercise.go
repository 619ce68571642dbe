package domain

// Exercise is a catalogue entry shown to clients.
type Exercise struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Exercises lists the supported exercises; imageBase prefixes the image paths.
func Exercises(imageBase string) []Exercise {
	return []Exercise{
		{
			ID:          "squat",
			Name:        "Squat Analysis",
			Description: "Perfect your squat form with AI feedback.",
			Image:       imageBase + "static/img/squat.jpg",
		},
		{
			ID:          "plank",
			Name:        "Plank Form",
			Description: "Maintain proper plank position with real-time posture correction.",
			Image:       imageBase + "static/img/plank.jpg",
		},
	}
}

type ModeInfo struct {
	ID   Mode   `json:"id"`
	Name string `json:"name"`
}

func Modes() []ModeInfo {
	return []ModeInfo{
		{ID: ModeBeginner, Name: "Beginner Mode"},
		{ID: ModePro, Name: "Professional Mode"},
	}
}
