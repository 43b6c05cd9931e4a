package services

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gorm.io/gorm"
)

// Client secrets and certificate passwords never reach the database as
// plaintext. Whatever the credential value, the stored ciphertext differs
// from it and decrypting recovers the original exactly.

func newEncryptionOnlyService() *TenantService {
	// Encryption does not touch the database, so a nil handle is fine here
	return NewTenantService((*gorm.DB)(nil), testEncryptionKey)
}

func TestProperty_CredentialEncryption(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	secretGen := gen.SliceOfN(24, gen.AlphaNumChar()).Map(func(chars []rune) string {
		return string(chars)
	})

	properties.Property("ciphertext_differs_from_plaintext", prop.ForAll(
		func(secret string) bool {
			service := newEncryptionOnlyService()

			encrypted, err := service.encryptSecret(secret)
			if err != nil {
				return false
			}

			return encrypted != secret
		},
		secretGen,
	))

	properties.Property("decryption_recovers_original", prop.ForAll(
		func(secret string) bool {
			service := newEncryptionOnlyService()

			encrypted, err := service.encryptSecret(secret)
			if err != nil {
				return false
			}

			decrypted, err := service.decryptSecret(encrypted)
			if err != nil {
				return false
			}

			return decrypted == secret
		},
		secretGen,
	))

	// GCM uses a random nonce per encryption, so the same secret never
	// produces the same ciphertext twice
	properties.Property("repeated_encryption_yields_distinct_ciphertexts", prop.ForAll(
		func(secret string) bool {
			service := newEncryptionOnlyService()

			first, err := service.encryptSecret(secret)
			if err != nil {
				return false
			}
			second, err := service.encryptSecret(secret)
			if err != nil {
				return false
			}

			return first != second
		},
		secretGen,
	))

	properties.Property("tampered_ciphertext_fails_decryption", prop.ForAll(
		func(secret string) bool {
			service := newEncryptionOnlyService()

			encrypted, err := service.encryptSecret(secret)
			if err != nil {
				return false
			}

			// Flip one character in the middle of the base64 payload so a
			// real ciphertext byte changes and the GCM tag no longer matches
			tampered := []byte(encrypted)
			mid := len(tampered) / 2
			if tampered[mid] == 'A' {
				tampered[mid] = 'B'
			} else {
				tampered[mid] = 'A'
			}

			_, err = service.decryptSecret(string(tampered))
			return err != nil
		},
		secretGen,
	))

	properties.TestingRun(t)
}
