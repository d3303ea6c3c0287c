package services

import "github.com/dmitrijs2005/marketplace/internal/server/models"

// User-facing texts. Messages that must not reveal which check failed are
// defined once and shared by every call site.
const (
	MsgInvalidRequest = "Invalid request. Please try again."
	MsgTryAgainLater  = "Something went wrong. Please try again later."

	MsgInvalidUserType    = "Invalid user type."
	MsgInvalidEmail       = "Please enter a valid email address."
	MsgPasswordTooShort   = "Password must be at least 8 characters long."
	MsgPasswordMismatch   = "Passwords do not match."
	MsgCityRequired       = "Please enter your city."
	MsgDistrictRequired   = "Please enter your district."
	MsgFullNameRequired   = "Please enter your full name."
	MsgMarketNameRequired = "Please enter your market name."

	MsgEmailTaken           = "Email address already in use. Please use a different email or login."
	MsgRegistrationFailed   = "Registration failed. Please try again later."
	MsgRegisteredMailFailed = "Registration successful, but we could not send a verification email. Please request a new code on the verification page."

	MsgPasswordRequired   = "Please enter your password."
	MsgInvalidCredentials = "Invalid email or password. Please try again."
	MsgLoginSuccess       = "Login successful. Welcome back!"
	MsgLoginFailed        = "Login failed. Please try again later."

	MsgCodeRequired       = "Please enter the verification code."
	MsgInvalidCode        = "Invalid or expired verification code. Please try again or request a new code."
	MsgVerified           = "Email verified successfully! You can now login."
	MsgVerificationFailed = "Verification failed. Please try again later."
	MsgCodeResent         = "Verification code has been resent to your email."
	MsgResendFailed       = "Failed to send verification email. Please try again later."
	MsgUserNotFound       = "User not found."

	MsgCurrentPasswordRequired = "Please enter your current password."
	MsgNewPasswordRequired     = "Please enter a new password."
	MsgNewPasswordTooShort     = "New password must be at least 8 characters long."
	MsgNewPasswordMismatch     = "New passwords do not match."
	MsgCurrentPasswordWrong    = "Current password is incorrect."
	MsgProfileUpdated          = "Profile updated successfully."
	MsgProfileUpdateFailed     = "Profile update failed. Please try again later."

	MsgImageInvalid      = "Please choose a JPG, PNG or GIF image of at most 2 MB."
	MsgImageUploaded     = "Profile image updated."
	MsgImageUploadFailed = "Image upload failed. Please try again later."

	MsgLoggedOut = "You have been logged out."
)

// roleForm is the part of the account forms that differs per role.
type roleForm struct {
	nameField   string
	nameLabel   string
	missingName string
}

var roleForms = map[models.Role]roleForm{
	models.RoleConsumer: {nameField: "fullname", nameLabel: "Full Name", missingName: MsgFullNameRequired},
	models.RoleMarket:   {nameField: "market_name", nameLabel: "Market Name", missingName: MsgMarketNameRequired},
}

// NameField is the form field holding the display name for role.
func NameField(role models.Role) string {
	return roleForms[role].nameField
}

// NameLabel is the human label of the display-name field for role.
func NameLabel(role models.Role) string {
	return roleForms[role].nameLabel
}
