// Package services contains the server-side account workflows: registration,
// login, email verification, profile updates and profile images. Workflows
// receive the caller's session explicitly, mutate it on success, and report
// failures as *Error values whose messages are safe to render.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/marketplace/internal/common"
	"github.com/dmitrijs2005/marketplace/internal/dbx"
	"github.com/dmitrijs2005/marketplace/internal/logging"
	"github.com/dmitrijs2005/marketplace/internal/server/config"
	"github.com/dmitrijs2005/marketplace/internal/server/csrf"
	mailer "github.com/dmitrijs2005/marketplace/internal/server/mail"
	"github.com/dmitrijs2005/marketplace/internal/server/metrics"
	"github.com/dmitrijs2005/marketplace/internal/server/models"
	"github.com/dmitrijs2005/marketplace/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/marketplace/internal/server/session"
	"github.com/dmitrijs2005/marketplace/internal/server/uploads"
)

// MinPasswordLength is counted in characters, not bytes.
const MinPasswordLength = 8

const maxEmailLength = 254

// PasswordCodec hashes and checks passwords. cryptox.Argon2 implements it.
type PasswordCodec interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// AccountDeps are the collaborators of AccountService. Metrics may be nil.
type AccountDeps struct {
	Passwords PasswordCodec
	Mailer    mailer.Sender
	Images    uploads.Store
	Metrics   *metrics.Metrics
	Logger    logging.Logger
}

type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ledger      *VerificationLedger
	passwords   PasswordCodec
	mailer      mailer.Sender
	images      uploads.Store
	metrics     *metrics.Metrics
	logger      logging.Logger
	mailTimeout time.Duration

	// dummyHash is checked against when the email is unknown so that login
	// takes the same time either way.
	dummyHash string
}

func NewAccountService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, deps AccountDeps) (*AccountService, error) {
	seed, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, fmt.Errorf("dummy password: %w", err)
	}
	dummy, err := deps.Passwords.Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	return &AccountService{
		db:          db,
		repomanager: rm,
		ledger:      NewVerificationLedger(rm, cfg.VerificationCodeTTL),
		passwords:   deps.Passwords,
		mailer:      deps.Mailer,
		images:      deps.Images,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("module", "accounts"),
		mailTimeout: cfg.MailTimeout,
		dummyHash:   dummy,
	}, nil
}

type RegisterInput struct {
	CSRFToken       string
	Role            string
	Email           string
	Password        string
	ConfirmPassword string
	// Name is the full name for consumers and the market name for markets.
	Name     string
	City     string
	District string
}

// Register creates an unverified account with its profile and first
// verification code in one transaction, then emails the code. A failed
// email does not undo the registration; it leaves a warning flash instead.
func (s *AccountService) Register(ctx context.Context, sess *session.Session, in RegisterInput) (*Outcome, error) {
	if err := s.CheckCSRF(ctx, sess, in.CSRFToken, "register"); err != nil {
		return nil, err
	}

	role, err := models.ParseRole(in.Role)
	if err != nil {
		return nil, validationError("type", MsgInvalidUserType)
	}

	email := common.NormalizeEmail(common.SanitizeInput(in.Email))
	city := common.SanitizeInput(in.City)
	district := common.SanitizeInput(in.District)
	name := common.SanitizeInput(in.Name)

	switch {
	case !validEmail(email):
		return nil, validationError("email", MsgInvalidEmail)
	case utf8.RuneCountInString(in.Password) < MinPasswordLength:
		return nil, validationError("password", MsgPasswordTooShort)
	case in.Password != in.ConfirmPassword:
		return nil, validationError("confirm_password", MsgPasswordMismatch)
	case city == "":
		return nil, validationError("city", MsgCityRequired)
	case district == "":
		return nil, validationError("district", MsgDistrictRequired)
	case name == "":
		return nil, validationError(roleForms[role].nameField, roleForms[role].missingName)
	}

	// The unique index is authoritative; this lookup only spares the
	// password hashing for an obviously taken address.
	if _, err := s.repomanager.Users(s.db).GetByEmail(ctx, email); err == nil {
		return nil, &Error{Kind: ErrDuplicateEmail, Field: "email", Message: MsgEmailTaken}
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, s.persistenceError(ctx, "registration lookup failed", MsgRegistrationFailed, err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, s.persistenceError(ctx, "password hashing failed", MsgRegistrationFailed, err)
	}

	type registered struct {
		user *models.User
		code string
	}
	res, err := dbx.WithTxResult(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (registered, error) {
		u, err := s.repomanager.Users(tx).Create(ctx, &models.User{Email: email, PasswordHash: hash, Role: role})
		if err != nil {
			return registered{}, fmt.Errorf("create user: %w", err)
		}
		if _, err := s.repomanager.Profiles(tx).Create(ctx, &models.Profile{
			UserID:   u.ID,
			Role:     role,
			Name:     name,
			City:     city,
			District: district,
		}); err != nil {
			return registered{}, fmt.Errorf("create profile: %w", err)
		}
		code, err := s.ledger.Issue(ctx, tx, u.ID)
		if err != nil {
			return registered{}, fmt.Errorf("issue code: %w", err)
		}
		return registered{user: u, code: code}, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, &Error{Kind: ErrDuplicateEmail, Field: "email", Message: MsgEmailTaken}
		}
		return nil, s.persistenceError(ctx, "registration failed", MsgRegistrationFailed, err)
	}

	s.metrics.Registration(string(role))
	s.logger.Info(ctx, "user registered", "user_id", res.user.ID, "role", role)

	sent := s.sendCode(ctx, res.user.ID, email, name, res.code)
	if sent == MailFailed {
		sess.SetFlash(session.FlashWarning, MsgRegisteredMailFailed)
	}
	sess.MarkPending(res.user.ID)

	return &Outcome{Redirect: "/verify", Mail: sent}, nil
}

type LoginInput struct {
	CSRFToken string
	Email     string
	Password  string
}

// Login authenticates verified users. Unverified users are moved to the
// pending-verification state instead. An unknown email and a wrong password
// fail identically.
func (s *AccountService) Login(ctx context.Context, sess *session.Session, in LoginInput) (*Outcome, error) {
	if err := s.CheckCSRF(ctx, sess, in.CSRFToken, "login"); err != nil {
		return nil, err
	}

	email := common.NormalizeEmail(common.SanitizeInput(in.Email))
	if !validEmail(email) {
		return nil, validationError("email", MsgInvalidEmail)
	}
	if in.Password == "" {
		return nil, validationError("password", MsgPasswordRequired)
	}

	authFailed := &Error{Kind: ErrAuthFailure, Message: MsgInvalidCredentials}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_, _ = s.passwords.Verify(in.Password, s.dummyHash)
			s.metrics.Login(metrics.ResultFailure)
			return nil, authFailed
		}
		return nil, s.persistenceError(ctx, "login lookup failed", MsgLoginFailed, err)
	}

	ok, err := s.passwords.Verify(in.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		s.metrics.Login(metrics.ResultFailure)
		return nil, authFailed
	}

	if !user.IsVerified {
		sess.MarkPending(user.ID)
		s.metrics.Login(metrics.ResultUnverified)
		return &Outcome{Redirect: "/verify"}, nil
	}

	var profileID int64
	p, err := s.repomanager.Profiles(s.db).GetByUserID(ctx, user.Role, user.ID)
	switch {
	case err == nil:
		profileID = p.ID
	case errors.Is(err, common.ErrorNotFound):
		s.logger.Warn(ctx, "verified user has no profile", "user_id", user.ID, "role", user.Role)
	default:
		return nil, s.persistenceError(ctx, "profile lookup failed", MsgLoginFailed, err)
	}

	sess.Authenticate(session.Identity{UserID: user.ID, Role: user.Role, ProfileID: profileID})
	sess.SetFlash(session.FlashSuccess, MsgLoginSuccess)
	s.metrics.Login(metrics.ResultSuccess)
	s.logger.Info(ctx, "user logged in", "user_id", user.ID)

	return &Outcome{Redirect: user.Role.LandingPath()}, nil
}

// PendingAccount is what the verification page shows about the user it is
// waiting for.
type PendingAccount struct {
	UserID string
	Email  string
	Role   models.Role
	Name   string
}

// PendingAccount loads the account the session is waiting to verify. It
// returns ErrNoPendingVerification when the session is not pending.
func (s *AccountService) PendingAccount(ctx context.Context, sess *session.Session) (*PendingAccount, error) {
	userID, ok := sess.PendingUser()
	if !ok {
		return nil, ErrNoPendingVerification
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, &Error{Kind: ErrAuthFailure, Message: MsgUserNotFound}
		}
		return nil, s.persistenceError(ctx, "pending user lookup failed", MsgTryAgainLater, err)
	}

	acc := &PendingAccount{UserID: user.ID, Email: user.Email, Role: user.Role}
	p, err := s.repomanager.Profiles(s.db).GetByUserID(ctx, user.Role, user.ID)
	switch {
	case err == nil:
		acc.Name = p.Name
	case errors.Is(err, common.ErrorNotFound):
	default:
		return nil, s.persistenceError(ctx, "pending profile lookup failed", MsgTryAgainLater, err)
	}
	return acc, nil
}

type VerifyInput struct {
	CSRFToken string
	Code      string
}

// Verify checks the submitted code for the pending user. On success the user
// is marked verified, the code is deleted and the session stops being
// pending, all before the redirect to login.
func (s *AccountService) Verify(ctx context.Context, sess *session.Session, in VerifyInput) (*Outcome, error) {
	userID, ok := sess.PendingUser()
	if !ok {
		return nil, ErrNoPendingVerification
	}
	if err := s.CheckCSRF(ctx, sess, in.CSRFToken, "verify"); err != nil {
		return nil, err
	}

	code := common.SanitizeInput(in.Code)
	if code == "" {
		return nil, validationError("verification_code", MsgCodeRequired)
	}

	rejected := &Error{Kind: ErrVerificationFailure, Field: "verification_code", Message: MsgInvalidCode}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.ledger.Validate(ctx, tx, userID, code)
		if err != nil {
			return fmt.Errorf("validate code: %w", err)
		}
		if !ok {
			return rejected
		}
		if err := s.repomanager.Users(tx).SetVerified(ctx, userID); err != nil {
			return fmt.Errorf("set verified: %w", err)
		}
		if err := s.ledger.Clear(ctx, tx, userID); err != nil {
			return fmt.Errorf("clear code: %w", err)
		}
		return nil
	})
	if err != nil {
		if IsKind(err, ErrVerificationFailure) {
			s.metrics.Verification(metrics.ResultFailure)
			return nil, err
		}
		if errors.Is(err, common.ErrorNotFound) {
			// the user row vanished between pending and now
			s.metrics.Verification(metrics.ResultFailure)
			return nil, rejected
		}
		return nil, s.persistenceError(ctx, "verification failed", MsgVerificationFailed, err)
	}

	sess.ClearPending()
	sess.SetFlash(session.FlashSuccess, MsgVerified)
	s.metrics.Verification(metrics.ResultSuccess)
	s.logger.Info(ctx, "email verified", "user_id", userID)

	return &Outcome{Redirect: "/login"}, nil
}

// ResendCode replaces the pending user's code and emails the new one. Here
// the email is the point of the request, so a send failure is an error.
func (s *AccountService) ResendCode(ctx context.Context, sess *session.Session, csrfToken string) (*Outcome, error) {
	if _, ok := sess.PendingUser(); !ok {
		return nil, ErrNoPendingVerification
	}
	if err := s.CheckCSRF(ctx, sess, csrfToken, "resend"); err != nil {
		return nil, err
	}

	acc, err := s.PendingAccount(ctx, sess)
	if err != nil {
		return nil, err
	}

	code, err := s.ledger.Issue(ctx, s.db, acc.UserID)
	if err != nil {
		return nil, s.persistenceError(ctx, "code reissue failed", MsgResendFailed, err)
	}

	if s.sendCode(ctx, acc.UserID, acc.Email, acc.Name, code) == MailFailed {
		return nil, &Error{Kind: ErrMailFailure, Message: MsgResendFailed}
	}
	return &Outcome{Notice: MsgCodeResent, Mail: MailSent, ResendDisabled: true}, nil
}

// ProfileView is the profile page model.
type ProfileView struct {
	Email    string
	Role     models.Role
	Name     string
	City     string
	District string
	Image    string
}

// LoadProfile returns the signed-in user's profile. A session pointing at a
// user that no longer exists is treated as signed out.
func (s *AccountService) LoadProfile(ctx context.Context, sess *session.Session) (*ProfileView, error) {
	id, ok := sess.Identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, s.persistenceError(ctx, "profile user lookup failed", MsgTryAgainLater, err)
	}

	view := &ProfileView{Email: user.Email, Role: user.Role}
	p, err := s.repomanager.Profiles(s.db).GetByUserID(ctx, user.Role, user.ID)
	switch {
	case err == nil:
		view.Name, view.City, view.District, view.Image = p.Name, p.City, p.District, p.Image
	case errors.Is(err, common.ErrorNotFound):
	default:
		return nil, s.persistenceError(ctx, "profile lookup failed", MsgTryAgainLater, err)
	}
	return view, nil
}

type ProfileInput struct {
	CSRFToken       string
	Name            string
	City            string
	District        string
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// UpdateProfile saves the profile fields and, when either password field is
// filled in, a new password. The current password must verify first.
func (s *AccountService) UpdateProfile(ctx context.Context, sess *session.Session, in ProfileInput) (*Outcome, error) {
	id, ok := sess.Identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if err := s.CheckCSRF(ctx, sess, in.CSRFToken, "profile"); err != nil {
		return nil, err
	}

	form, ok := roleForms[id.Role]
	if !ok {
		return nil, s.persistenceError(ctx, "session has unknown role", MsgProfileUpdateFailed, models.ErrUnknownRole)
	}

	city := common.SanitizeInput(in.City)
	district := common.SanitizeInput(in.District)
	name := common.SanitizeInput(in.Name)

	switch {
	case city == "":
		return nil, validationError("city", MsgCityRequired)
	case district == "":
		return nil, validationError("district", MsgDistrictRequired)
	case name == "":
		return nil, validationError(form.nameField, form.missingName)
	}

	var newHash string
	if in.CurrentPassword != "" || in.NewPassword != "" {
		switch {
		case in.CurrentPassword == "":
			return nil, validationError("current_password", MsgCurrentPasswordRequired)
		case in.NewPassword == "":
			return nil, validationError("new_password", MsgNewPasswordRequired)
		case utf8.RuneCountInString(in.NewPassword) < MinPasswordLength:
			return nil, validationError("new_password", MsgNewPasswordTooShort)
		case in.NewPassword != in.ConfirmPassword:
			return nil, validationError("confirm_password", MsgNewPasswordMismatch)
		}

		user, err := s.repomanager.Users(s.db).GetByID(ctx, id.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, ErrNotAuthenticated
			}
			return nil, s.persistenceError(ctx, "profile user lookup failed", MsgProfileUpdateFailed, err)
		}
		match, err := s.passwords.Verify(in.CurrentPassword, user.PasswordHash)
		if err != nil {
			s.logger.Error(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
		}
		if !match {
			return nil, validationError("current_password", MsgCurrentPasswordWrong)
		}

		newHash, err = s.passwords.Hash(in.NewPassword)
		if err != nil {
			return nil, s.persistenceError(ctx, "password hashing failed", MsgProfileUpdateFailed, err)
		}
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Profiles(tx).Update(ctx, &models.Profile{
			UserID:   id.UserID,
			Role:     id.Role,
			Name:     name,
			City:     city,
			District: district,
		}); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if newHash != "" {
			if err := s.repomanager.Users(tx).UpdatePasswordHash(ctx, id.UserID, newHash); err != nil {
				return fmt.Errorf("update password: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.persistenceError(ctx, "profile update failed", MsgProfileUpdateFailed, err)
	}

	s.logger.Info(ctx, "profile updated", "user_id", id.UserID, "password_changed", newHash != "")
	sess.SetFlash(session.FlashSuccess, MsgProfileUpdated)
	return &Outcome{Redirect: "/profile"}, nil
}

type ImageInput struct {
	CSRFToken string
	Filename  string
	Size      int64
	Body      io.Reader
}

// UploadImage stores a new profile image and records its name on the
// profile.
func (s *AccountService) UploadImage(ctx context.Context, sess *session.Session, in ImageInput) (*Outcome, error) {
	id, ok := sess.Identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if err := s.CheckCSRF(ctx, sess, in.CSRFToken, "profile_image"); err != nil {
		return nil, err
	}

	ext, err := uploads.Validate(in.Filename, in.Size)
	if err != nil {
		return nil, validationError("image", MsgImageInvalid)
	}

	name := uploads.NewFileName(ext)
	if err := s.images.Save(ctx, name, in.Body); err != nil {
		if errors.Is(err, uploads.ErrFileTooLarge) || errors.Is(err, uploads.ErrEmptyFile) {
			return nil, validationError("image", MsgImageInvalid)
		}
		return nil, s.persistenceError(ctx, "image store failed", MsgImageUploadFailed, err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Profiles(tx).SetImage(ctx, id.Role, id.UserID, name)
	})
	if err != nil {
		if derr := s.images.Delete(context.WithoutCancel(ctx), name); derr != nil {
			s.logger.Warn(ctx, "orphaned image not removed", "image", name, "error", derr)
		}
		return nil, s.persistenceError(ctx, "image record failed", MsgImageUploadFailed, err)
	}

	sess.SetFlash(session.FlashSuccess, MsgImageUploaded)
	return &Outcome{Redirect: "/profile"}, nil
}

// CheckCSRF verifies the submitted token before anything else in a form
// handler runs. Failures are logged as potentially hostile.
func (s *AccountService) CheckCSRF(ctx context.Context, sess *session.Session, token, action string) error {
	if csrf.Verify(sess, token) {
		return nil
	}
	s.metrics.CSRFFailure()
	s.logger.Warn(ctx, "csrf check failed", "reason", "csrf", "action", action)
	return &Error{Kind: ErrInvalidRequest, Message: MsgInvalidRequest}
}

// sendCode emails code after the surrounding transaction has committed. It
// is bounded by the mail timeout and survives cancellation of ctx.
func (s *AccountService) sendCode(ctx context.Context, userID, email, name, code string) MailOutcome {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)
	defer cancel()

	if err := s.mailer.SendVerificationEmail(mctx, email, name, code); err != nil {
		s.metrics.MailFailure()
		s.logger.Warn(ctx, "verification email not sent", "user_id", userID, "error", err)
		return MailFailed
	}
	return MailSent
}

func (s *AccountService) persistenceError(ctx context.Context, logMsg, userMsg string, err error) *Error {
	s.logger.Error(ctx, logMsg, "error", err)
	return &Error{Kind: ErrPersistence, Message: userMsg, Err: err}
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Name == "" && addr.Address == email
}
