package common

const (
	// AnalyzePrompt 随图片一起发送给视觉模型的固定指令
	AnalyzePrompt = `Analyze this plant leaf image for identification and disease classification.
1. Identify the specific plant species/name based on leaf characteristics.
2. Determine the health condition (disease name or 'Healthy').
3. Detect if the leaf is dried or withered.
4. Provide 3-4 specific plant care tips for this species.
5. Confidence score (0-1).
6. Actionable advice.
7. A short inspiring plant quotation.

Return as valid JSON with exactly these keys: plantName (string), condition (string),
isDried (boolean), confidence (number), advice (string), quotation (string),
careTips (array of strings).`

	// ExpertPrompt 聊天助手的系统指令
	ExpertPrompt = "You are an expert agronomist and botanist. Provide helpful, accurate, and concise advice about plant care, identification, and disease management. If the user asks about something unrelated to plants, politely steer the conversation back to agriculture and botany."

	ChatGreeting      = "Hello! I'm your AgroDetect AI assistant. How can I help you with your plants today?"
	ChatEmptyReply    = "I'm sorry, I couldn't process that request."
	ChatConnectionErr = "Connection error. Please try again."

	CameraErrorMsg   = "Unable to access camera. Please check permissions."
	AnalysisErrorMsg = "Failed to analyze image. Try again."

	DefaultUserName = "User"
)

// 持久化记录的固定键
const (
	StorageKeyUser    = "agrodetect_user"
	StorageKeyHistory = "agrodetect_history"
	StorageKeyTheme   = "agrodetect_theme"
)

// 导航目的地
const (
	TabHome     = "home"
	TabScan     = "scan"
	TabHistory  = "history"
	TabChat     = "chat"
	TabSettings = "settings"
)

var WelcomeQuotes = []string{
	"The best time to plant a tree was 20 years ago. The second best time is now.",
	"He who plants a garden, plants happiness.",
	"To plant a garden is to believe in tomorrow.",
	"Agriculture is our wisest pursuit, because it will in the end contribute most to real wealth.",
	"Deep in their roots, all flowers keep the light.",
}

var PlantClasses = []string{
	"Tomato", "Potato", "Corn", "Apple", "Grape", "Pepper", "Strawberry", "Cherry", "Peach",
}

// IsValidTab 判断导航目的地是否合法
func IsValidTab(tab string) bool {
	switch tab {
	case TabHome, TabScan, TabHistory, TabChat, TabSettings:
		return true
	}
	return false
}
