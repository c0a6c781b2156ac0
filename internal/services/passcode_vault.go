package services

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encrypted string) (string, error)
}

// PasscodeVault stores group passcodes encrypted at rest and checks
// candidates against them. Cleartext never reaches the database.
type PasscodeVault struct {
	DB     *gorm.DB
	Cipher Encryptor
}

func NewPasscodeVault(db *gorm.DB, cipher Encryptor) (*PasscodeVault, error) {
	if cipher == nil {
		return nil, ErrEncryptionNotConfigured
	}
	return &PasscodeVault{DB: db, Cipher: cipher}, nil
}

// Seal encrypts a cleartext passcode for storage. An empty passcode seals to nil.
func (v *PasscodeVault) Seal(cleartext string) (*string, error) {
	if cleartext == "" {
		return nil, nil
	}
	encrypted, err := v.Cipher.Encrypt(cleartext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt passcode: %w", err)
	}
	return &encrypted, nil
}

// SetPasscode replaces the stored passcode of a group. An empty cleartext
// clears it.
func (v *PasscodeVault) SetPasscode(ctx context.Context, groupID uuid.UUID, cleartext string) error {
	sealed, err := v.Seal(cleartext)
	if err != nil {
		return err
	}

	result := v.DB.WithContext(ctx).
		Model(&models.Group{}).
		Where("id = ?", groupID).
		Update("passcode", sealed)
	if result.Error != nil {
		return fmt.Errorf("failed to store passcode: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// Verify reports whether candidate opens group. Public groups and private
// groups without a stored passcode accept anything. A stored value that no
// longer decrypts rejects every candidate.
func (v *PasscodeVault) Verify(_ context.Context, group *models.Group, candidate string) bool {
	if !group.IsPrivate || !group.HasPasscode() {
		return true
	}

	stored, err := v.Cipher.Decrypt(*group.Passcode)
	if err != nil {
		logger.Error("passcode_decrypt_failed", err, map[string]interface{}{
			"group_id": group.ID.String(),
		})
		return false
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}
