package aqi

// Recommendation is the health guidance for an AQI value.
type Recommendation struct {
	AQI        int        `json:"aqi"`
	Category   string     `json:"category"`
	Color      string     `json:"color"`
	General    string     `json:"general"`
	Sensitive  string     `json:"sensitive"`
	Activities Activities `json:"activities"`
	Groups     Groups     `json:"groups"`
}

type Activities struct {
	Outdoor  string `json:"outdoor"`
	Exercise string `json:"exercise"`
	Windows  string `json:"windows"`
}

type Groups struct {
	Children    string `json:"children"`
	Elderly     string `json:"elderly"`
	Respiratory string `json:"respiratory"`
	Heart       string `json:"heart"`
}

// guidance is keyed by Category.Key.
var guidance = map[string]Recommendation{
	"good": {
		General:   "Air quality is good. Perfect time for all outdoor activities.",
		Sensitive: "No precautions needed for sensitive groups.",
		Activities: Activities{
			Outdoor:  "Enjoy outdoor activities freely",
			Exercise: "Great time for outdoor exercise",
			Windows:  "Keep windows open for fresh air",
		},
		Groups: Groups{
			Children:    "Safe for all children's activities",
			Elderly:     "No restrictions for elderly",
			Respiratory: "Safe for people with respiratory conditions",
			Heart:       "Safe for people with heart conditions",
		},
	},
	"moderate": {
		General:   "Air quality is acceptable for most people.",
		Sensitive: "Unusually sensitive people may experience minor symptoms.",
		Activities: Activities{
			Outdoor:  "Generally safe for outdoor activities",
			Exercise: "Reduce intensity if you feel symptoms",
			Windows:  "Keep windows open, but monitor air quality",
		},
		Groups: Groups{
			Children:    "Safe for most children's activities",
			Elderly:     "Monitor for any discomfort",
			Respiratory: "May cause minor symptoms in very sensitive individuals",
			Heart:       "Generally safe, monitor for symptoms",
		},
	},
	"unhealthy_sensitive": {
		General:   "Sensitive groups may experience health effects.",
		Sensitive: "Reduce prolonged or heavy outdoor exertion.",
		Activities: Activities{
			Outdoor:  "Limit prolonged outdoor activities",
			Exercise: "Reduce outdoor exercise intensity and duration",
			Windows:  "Consider keeping windows closed during peak hours",
		},
		Groups: Groups{
			Children:    "Limit prolonged outdoor play",
			Elderly:     "Reduce outdoor activities",
			Respiratory: "Keep rescue medication at hand and limit exertion",
			Heart:       "Avoid strenuous outdoor activity",
		},
	},
	"unhealthy": {
		General:   "Everyone may begin to experience health effects.",
		Sensitive: "Avoid prolonged or heavy outdoor exertion.",
		Activities: Activities{
			Outdoor:  "Move activities indoors or reschedule",
			Exercise: "Exercise indoors",
			Windows:  "Keep windows closed",
		},
		Groups: Groups{
			Children:    "Keep children indoors where possible",
			Elderly:     "Stay indoors and keep activity levels low",
			Respiratory: "Stay indoors and follow your action plan",
			Heart:       "Stay indoors and avoid exertion",
		},
	},
	"very_unhealthy": {
		General:   "Health alert: everyone may experience more serious health effects.",
		Sensitive: "Avoid all outdoor physical activity.",
		Activities: Activities{
			Outdoor:  "Avoid outdoor activities",
			Exercise: "Postpone exercise or exercise indoors with filtered air",
			Windows:  "Keep windows closed and run an air purifier if available",
		},
		Groups: Groups{
			Children:    "Keep children indoors",
			Elderly:     "Remain indoors",
			Respiratory: "Remain indoors and contact your doctor if symptoms worsen",
			Heart:       "Remain indoors and watch for chest pain or palpitations",
		},
	},
	"hazardous": {
		General:   "Health warning of emergency conditions. Everyone is likely to be affected.",
		Sensitive: "Remain indoors and keep activity levels low.",
		Activities: Activities{
			Outdoor:  "Do not go outdoors unless necessary",
			Exercise: "Do not exercise outdoors",
			Windows:  "Seal windows and doors; use air purifiers",
		},
		Groups: Groups{
			Children:    "Keep children indoors at all times",
			Elderly:     "Stay indoors; seek medical help for any symptoms",
			Respiratory: "Stay indoors; seek medical help for any breathing difficulty",
			Heart:       "Stay indoors; seek medical help for any cardiac symptoms",
		},
	},
}

// HealthRecommendations returns guidance for the bucket containing aqi.
func HealthRecommendations(aqi int) Recommendation {
	c := CategoryFor(aqi)
	r := guidance[c.Key]
	r.AQI = Clamp(aqi)
	r.Category = c.Label
	r.Color = c.Color
	return r
}

// HealthMessage is the one-line advice used in alert messages.
func HealthMessage(aqi int) string {
	return guidance[CategoryFor(aqi).Key].General
}
