// Package texts holds the localized strings shown to joining users.
package texts

// Language codes understood by the bot.
const (
	LangEnglish  = "en"
	LangHindi    = "hi"
	LangHinglish = "hinglish"
)

// LanguageLabels maps language codes to button labels, in the order the
// selection keyboard presents them.
var LanguageLabels = []struct {
	Code  string
	Label string
}{
	{LangEnglish, "English"},
	{LangHindi, "Hindi"},
	{LangHinglish, "Hinglish"},
}

// IsKnownLanguage reports whether code is one of the supported languages.
func IsKnownLanguage(code string) bool {
	switch code {
	case LangEnglish, LangHindi, LangHinglish:
		return true
	}
	return false
}

// SafeLanguage returns code if supported, otherwise English.
func SafeLanguage(code string) string {
	if IsKnownLanguage(code) {
		return code
	}
	return LangEnglish
}

var welcome = map[string]string{
	LangEnglish:  "Welcome! Please select your preferred language to continue.",
	LangHindi:    "स्वागत है! कृपया आगे बढ़ने के लिए अपनी भाषा चुनें।",
	LangHinglish: "Welcome! Aage badhne ke liye apni language chunein.",
}

var verify = map[string]string{
	LangEnglish:  "Please verify that you are human to join this chat.",
	LangHindi:    "जुड़ने के लिए कृपया पुष्टि करें कि आप इंसान हैं।",
	LangHinglish: "Please verify karein ki aap human hain taaki channel join ho sake.",
}

var success = map[string]string{
	LangEnglish:  "Verification successful. You have been approved.",
	LangHindi:    "सफल! आपको approve कर दिया गया है।",
	LangHinglish: "Verification successful. Aapko approve kar diya gaya hai.",
}

var fail = map[string]string{
	LangEnglish:  "Verification failed. Please request to join again.",
	LangHindi:    "सत्यापन विफल हुआ। कृपया दोबारा join request भेजें।",
	LangHinglish: "Verification failed. Kripya dobara request bhejein.",
}

var expired = map[string]string{
	LangEnglish:  "Verification expired. Please request to join again.",
	LangHindi:    "Verification का समय समाप्त हो गया। कृपया दोबारा join request भेजें।",
	LangHinglish: "Verification ka time khatam ho gaya. Kripya dobara request bhejein.",
}

var attemptsLeft = map[string]string{
	LangEnglish:  "Wrong choice. Attempts left: %d.",
	LangHindi:    "गलत चयन। शेष प्रयास: %d.",
	LangHinglish: "Wrong choice. Attempts left: %d.",
}

func pick(m map[string]string, lang string) string {
	if s, ok := m[SafeLanguage(lang)]; ok {
		return s
	}
	return m[LangEnglish]
}

// Welcome is the language-selection prompt. It is always shown before a
// language is known, so callers normally pass LangEnglish.
func Welcome(lang string) string { return pick(welcome, lang) }

// Verify is the human-verification challenge prompt.
func Verify(lang string) string { return pick(verify, lang) }

// Success confirms approval.
func Success(lang string) string { return pick(success, lang) }

// Fail announces a failed verification.
func Fail(lang string) string { return pick(fail, lang) }

// Expired announces a lapsed verification window.
func Expired(lang string) string { return pick(expired, lang) }

// AttemptsLeft is a printf format taking the remaining attempt count.
func AttemptsLeft(lang string) string { return pick(attemptsLeft, lang) }

// ChallengeLabels maps challenge option keys to button labels.
var ChallengeLabels = map[string]string{
	"human": "I am Human",
	"bot":   "I am a Bot",
	"skip":  "Skip Verification",
	"auto":  "Auto Join",
}
