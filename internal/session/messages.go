package session

import "strings"

// Messages holds the fallback error text used when a failure carries no
// server-supplied message.
type Messages struct {
	Login            string
	Register         string
	NotAuthenticated string
	Profile          string
	ForgotPassword   string
	VerifyEmail      string
	ResetPassword    string
}

var DefaultMessages = Messages{
	Login:            "Connection error",
	Register:         "Registration error",
	NotAuthenticated: "User not logged in",
	Profile:          "Error while fetching profile",
	ForgotPassword:   "Error during password recovery",
	VerifyEmail:      "Error during email verification",
	ResetPassword:    "Error during password reset",
}

var FrenchMessages = Messages{
	Login:            "Erreur de connexion",
	Register:         "Erreur d'inscription",
	NotAuthenticated: "Utilisateur non connecté",
	Profile:          "Erreur lors de la récupération du profil",
	ForgotPassword:   "Erreur lors de la récupération",
	VerifyEmail:      "Erreur lors de la vérification",
	ResetPassword:    "Erreur lors de la réinitialisation",
}

// MessagesFor returns the fallback table for a locale, defaulting to English
func MessagesFor(locale string) Messages {
	switch strings.ToLower(locale) {
	case "fr", "fr-fr", "fr_fr", "french":
		return FrenchMessages
	default:
		return DefaultMessages
	}
}
