package common

const (
	// AuthorizationHeader carries either a Bearer token or Basic credentials.
	AuthorizationHeader = "Authorization"

	BearerScheme = "Bearer"
	BasicScheme  = "Basic"

	// MinPasswordLength applies to registration and password changes.
	MinPasswordLength = 8
	// MaxPasswordBytes is the longest input bcrypt hashes.
	MaxPasswordBytes = 72

	RoleUser  = "user"
	RoleAdmin = "admin"
)
