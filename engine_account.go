package goGuard

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/revocation"
)

// Register validates in, hashes the password and creates the user. Duplicate
// usernames and emails are reported with distinct validation errors.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (User, error) {
	if e == nil || e.passwords == nil {
		return User{}, ErrEngineNotReady
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if err := e.validate.StructCtx(ctx, in); err != nil {
		e.registerRejected(ctx, in.Username, "invalid_input")
		return User{}, describeValidation(err)
	}
	if err := e.checkStrength(in.Password); err != nil {
		e.registerRejected(ctx, in.Username, "weak_password")
		return User{}, err
	}

	if _, err := e.users.GetUserByUsername(ctx, in.Username); err == nil {
		return User{}, e.registerDuplicate(ctx, in.Username, ErrUsernameTaken)
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, fmt.Errorf("register: lookup username: %w", err)
	}
	if _, err := e.users.GetUserByEmail(ctx, in.Email); err == nil {
		return User{}, e.registerDuplicate(ctx, in.Username, ErrEmailTaken)
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, fmt.Errorf("register: lookup email: %w", err)
	}

	hash, err := e.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return User{}, validationError("Password is too long", err)
		}
		return User{}, fmt.Errorf("register: hash password: %w", err)
	}

	roles := in.Roles
	if len(roles) == 0 {
		roles = e.config.Security.DefaultRoles
	}
	created, err := e.users.CreateUser(ctx, UserRecord{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Roles:        append([]string(nil), roles...),
		CreatedAt:    e.now().UTC(),
	})
	if err != nil {
		// The store enforces uniqueness for registrations that race past the
		// lookups above.
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken) {
			return User{}, e.registerDuplicate(ctx, in.Username, err)
		}
		return User{}, fmt.Errorf("register: create user: %w", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, created.ID, "", "", nil, nil)
	return created.Public(), nil
}

func (e *Engine) registerRejected(ctx context.Context, username, reason string) {
	e.metricInc(MetricRegisterRejected)
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", "", ErrValidation, func() map[string]string {
		return map[string]string{
			"identifier": username,
			"reason":     reason,
		}
	})
}

func (e *Engine) registerDuplicate(ctx context.Context, username string, err error) error {
	e.metricInc(MetricRegisterDuplicate)
	e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", "", err, func() map[string]string {
		return map[string]string{"identifier": username}
	})
	return AsError(err)
}

func (e *Engine) checkStrength(plain string) error {
	s := password.ScoreStrength(plain)
	if s.Score >= e.config.Password.MinScore {
		return nil
	}
	msg := "Password is too weak"
	if len(s.Feedback) > 0 {
		msg += ": " + s.Feedback[0]
	}
	return validationError(msg, fmt.Errorf("%w: score %d", ErrWeakPassword, s.Score))
}

// ChangePassword replaces the password of userID after verifying the current
// one, then revokes every outstanding token of the user.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.passwords == nil {
		return ErrEngineNotReady
	}
	if userID == "" || oldPassword == "" || newPassword == "" {
		return validationError("Current and new password are required", nil)
	}

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("change password: lookup user: %w", err)
	}

	ok, err := e.passwords.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, userID, "", "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if same, err := e.passwords.Verify(newPassword, user.PasswordHash); err == nil && same {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.emitAudit(ctx, auditEventPasswordChangeReuse, false, userID, "", "", ErrPasswordReuse, nil)
		return AsError(ErrPasswordReuse)
	}
	if err := e.checkStrength(newPassword); err != nil {
		return err
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return validationError("Password is too long", err)
		}
		return fmt.Errorf("change password: hash: %w", err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("change password: update hash: %w", err)
	}

	if _, err := e.RevokeAllUserTokens(ctx, userID, revocation.ReasonPasswordChange); err != nil {
		e.log.Error("token revocation after password change failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", "", nil, nil)
	return nil
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// describeValidation turns the first validator failure into a client message.
func describeValidation(err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return validationError("Invalid request", fmt.Errorf("%w: %v", ErrValidation, err))
	}

	fe := verrs[0]
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "email":
		msg = field + " must be a valid email address"
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "alphanum":
		msg = field + " may only contain letters and digits"
	default:
		msg = field + " is invalid"
	}
	return validationError(msg, fmt.Errorf("%w: %v", ErrValidation, verrs))
}
