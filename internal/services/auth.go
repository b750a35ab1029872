package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/internal/utils"
	"github.com/modelmint/backend/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrExpiredToken       = errors.New("refresh token expired")
	// ErrSessionCompromised means an already-rotated refresh token was
	// presented. The whole family has been revoked.
	ErrSessionCompromised = errors.New("refresh token reuse detected")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrUsernameTaken      = errors.New("username already taken")
	// ErrRemainingBalance means the account still holds tokens and the caller
	// did not acknowledge forfeiting them.
	ErrRemainingBalance = errors.New("account still holds tokens")
)

// AuthService issues, rotates, and revokes session credentials. Access
// tokens are self-contained JWTs; refresh tokens are opaque secrets tracked
// per family in auth_sessions with rotation and reuse detection.
type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	versions  *VersionRegistry
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, versions *VersionRegistry) *AuthService {
	return &AuthService{db: db, jwtConfig: jwtCfg, versions: versions}
}

type RegisterRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=100"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	AccessToken     string       `json:"access_token"`
	AccessExpireAt  time.Time    `json:"access_expire_at"`
	RefreshToken    string       `json:"refresh_token"`
	RefreshExpireAt time.Time    `json:"refresh_expire_at"`
	User            *models.User `json:"user"`
}

type RefreshResult struct {
	AccessToken     string    `json:"access_token"`
	AccessExpireAt  time.Time `json:"access_expire_at"`
	RefreshToken    string    `json:"refresh_token"`
	RefreshExpireAt time.Time `json:"refresh_expire_at"`
}

// Register creates a new account with a hashed password and the configured
// starting balance.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest, initialTokens int64) (*models.User, error) {
	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:  req.Username,
		Email:     req.Email,
		Password:  hashed,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Tokens:    initialTokens,
		IsActive:  true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUsernameTaken
		}
		if initialTokens > 0 {
			return tx.Create(&models.LedgerTransaction{
				UserID:       user.ID,
				Delta:        initialTokens,
				Reason:       models.ReasonPurchase,
				BalanceAfter: initialTokens,
			}).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Action("user_registered", user.ID, user.Username).Send()
	return &user, nil
}

// Login authenticates credentials, opens a new refresh-token family, and
// issues the first access/refresh pair.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? AND is_active = ?", req.Username, true).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	rawRefresh, refreshHash, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := models.AuthSession{
		UserID:            user.ID,
		FamilyID:          uuid.NewString(),
		TokenHash:         refreshHash,
		IPAddress:         clientIP,
		UserAgent:         userAgent,
		ExpiresAt:         now.Add(time.Duration(s.jwtConfig.RefreshExpireHour) * time.Hour),
		AbsoluteExpiresAt: now.Add(time.Duration(s.jwtConfig.AbsoluteExpireHour) * time.Hour),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}

	accessToken, err := utils.GenerateToken(user.ID, user.Username, s.jwtConfig.AccessExpireMin)
	if err != nil {
		return nil, err
	}

	user.LastLogin = &now
	s.db.WithContext(ctx).Model(&user).Update("last_login", now)

	logger.Action("user_logged_in", user.ID, user.Username).Str("ip", clientIP).Send()

	return &LoginResult{
		AccessToken:     accessToken,
		AccessExpireAt:  now.Add(time.Duration(s.jwtConfig.AccessExpireMin) * time.Minute),
		RefreshToken:    rawRefresh,
		RefreshExpireAt: session.ExpiresAt,
		User:            &user,
	}, nil
}

// Refresh rotates a refresh token within its family. Rotation is serialized
// per family by a row lock, so concurrent refreshes of the same token yield
// exactly one new pair; the losers observe the rotation as reuse. Presenting
// a rotated-out or revoked token revokes the whole family.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}
	presentedHash := hashRefreshToken(refreshToken)

	// Revocations must commit even though the caller gets an error, so the
	// rejection sentinel is carried out of the transaction instead of
	// returned from the closure (a non-nil return would roll the revoke back).
	var result *RefreshResult
	var rejected error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.AuthSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ? OR last_token_hash = ?", presentedHash, presentedHash).
			First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}

		now := time.Now()

		if session.Revoked {
			return ErrSessionCompromised
		}
		if session.TokenHash != presentedHash {
			// The presented token was already rotated out: theft signal.
			// Kill the family so neither holder can continue.
			if err := s.revokeFamilyTx(tx, session.FamilyID); err != nil {
				return err
			}
			logger.Warn().
				Uint("user_id", session.UserID).
				Str("family_id", session.FamilyID).
				Msg("refresh token reuse detected; session family revoked")
			rejected = ErrSessionCompromised
			return nil
		}
		if now.After(session.AbsoluteExpiresAt) {
			if err := s.revokeFamilyTx(tx, session.FamilyID); err != nil {
				return err
			}
			rejected = ErrExpiredToken
			return nil
		}
		if now.After(session.ExpiresAt) {
			return ErrExpiredToken
		}

		var user models.User
		if err := tx.First(&user, session.UserID).Error; err != nil {
			return err
		}
		if !user.IsActive {
			return ErrUserDisabled
		}

		rawRefresh, refreshHash, err := generateRefreshToken()
		if err != nil {
			return err
		}

		newExpiry := now.Add(time.Duration(s.jwtConfig.RefreshExpireHour) * time.Hour)
		if newExpiry.After(session.AbsoluteExpiresAt) {
			newExpiry = session.AbsoluteExpiresAt
		}

		if err := tx.Model(&session).Updates(map[string]interface{}{
			"token_hash":      refreshHash,
			"last_token_hash": presentedHash,
			"expires_at":      newExpiry,
		}).Error; err != nil {
			return err
		}

		accessToken, err := utils.GenerateToken(user.ID, user.Username, s.jwtConfig.AccessExpireMin)
		if err != nil {
			return err
		}

		result = &RefreshResult{
			AccessToken:     accessToken,
			AccessExpireAt:  now.Add(time.Duration(s.jwtConfig.AccessExpireMin) * time.Minute),
			RefreshToken:    rawRefresh,
			RefreshExpireAt: newExpiry,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	return result, nil
}

// Logout revokes the family of the presented refresh token. Unknown tokens
// are ignored: logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, userID uint, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	hash := hashRefreshToken(refreshToken)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.AuthSession
		err := tx.Where("token_hash = ? OR last_token_hash = ?", hash, hash).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.revokeFamilyTx(tx, session.FamilyID); err != nil {
			return err
		}
		logger.Action("user_logged_out", userID, "").Send()
		return nil
	})
}

type DeleteAccountRequest struct {
	Username           string `json:"username" binding:"required"`
	Password           string `json:"password" binding:"required"`
	ConfirmWithBalance bool   `json:"confirm_delete_with_balance"`
}

// DeleteAccount soft-disables the account after re-confirming credentials.
// An account holding tokens is only deleted when the caller explicitly
// acknowledges forfeiting them. All session families are revoked and both
// resource kinds are bumped in the same transaction, so cached model and
// prediction listings stop serving the deleted account's data.
func (s *AuthService) DeleteAccount(ctx context.Context, userID uint, req *DeleteAccountRequest) error {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}

	if user.Username != req.Username || !utils.CheckPassword(req.Password, user.Password) {
		return ErrInvalidCredentials
	}
	if user.Tokens > 0 && !req.ConfirmWithBalance {
		return ErrRemainingBalance
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND is_active = ?", userID, true).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserDisabled
		}

		if err := tx.Model(&models.AuthSession{}).
			Where("user_id = ? AND revoked = ?", userID, false).
			Update("revoked", true).Error; err != nil {
			return err
		}

		if _, err := s.versions.Bump(tx, userID, models.KindModels); err != nil {
			return err
		}
		if _, err := s.versions.Bump(tx, userID, models.KindPredictions); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Action("user_deleted_account", userID, user.Username).Send()
	return nil
}

// RevokeFamily revokes every session family owned by the user.
func (s *AuthService) RevokeFamily(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Model(&models.AuthSession{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
}

// GetUserByID returns an active user.
func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) revokeFamilyTx(tx *gorm.DB, familyID string) error {
	return tx.Model(&models.AuthSession{}).
		Where("family_id = ?", familyID).
		Update("revoked", true).Error
}

func generateRefreshToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(randomBytes)
	tokenHash = hashRefreshToken(token)
	return token, tokenHash, nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
