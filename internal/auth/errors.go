package auth

import "errors"

// Error codes carried by *Error.
const (
	CodeInvalidCredential   = "auth/invalid-credential"
	CodeUserNotFound        = "auth/user-not-found"
	CodeWrongPassword       = "auth/wrong-password"
	CodeInvalidEmail        = "auth/invalid-email"
	CodeEmailInUse          = "auth/email-already-in-use"
	CodeWeakPassword        = "auth/weak-password"
	CodeNetworkFailed       = "auth/network-request-failed"
	CodeAccountExists       = "auth/account-exists-with-different-credential"
	CodeRequiresRecentLogin = "auth/requires-recent-login"
	CodePopupBlocked        = "auth/popup-blocked"
	CodePopupClosed         = "auth/popup-closed-by-user"
	CodeInvalidToken        = "auth/invalid-user-token"
	CodeOperationNotAllowed = "auth/operation-not-allowed"
	CodeRedirectExpired     = "auth/redirect-state-expired"
)

var messages = map[string]string{
	CodeInvalidCredential:   "Invalid email or password.",
	CodeUserNotFound:        "Invalid email or password.",
	CodeWrongPassword:       "Invalid email or password.",
	CodeInvalidEmail:        "Invalid email format.",
	CodeEmailInUse:          "This email is already registered.",
	CodeWeakPassword:        "Password is too weak.",
	CodeNetworkFailed:       "Network error during Google Sign-In. Please check your connection.",
	CodeAccountExists:       "An account already exists with the same email address but different sign-in credentials.",
	CodeRequiresRecentLogin: "This operation is sensitive and requires recent authentication. Please log out and log back in to change your password.",
	CodePopupBlocked:        "Sign-in popup was blocked.",
	CodePopupClosed:         "Sign-in popup was closed before completing.",
	CodeInvalidToken:        "Your session has expired. Please sign in again.",
	CodeOperationNotAllowed: "This sign-in method is not available.",
	CodeRedirectExpired:     "The sign-in attempt has expired. Please try again.",
}

// Error is a typed authentication failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(code string) *Error {
	return &Error{Code: code, Message: MessageFor(code)}
}

// MessageFor maps an error code to the message shown to users.
func MessageFor(code string) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Authentication failed. Please try again."
}

// CodeOf returns the code of an *Error in err's chain, or "".
func CodeOf(err error) string {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}
