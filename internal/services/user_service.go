package services

import (
	"errors"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates the user was not found
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists indicates the username is already taken
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrInvalidCredentials indicates invalid login credentials
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordTooShort indicates the password is too short
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrInvalidRole indicates an unknown role name
	ErrInvalidRole = errors.New("invalid role")
	// ErrLastAdmin indicates the operation would leave no admin behind
	ErrLastAdmin = errors.New("cannot remove the last admin user")
)

const minPasswordLength = 8

// UserService owns user accounts: creation, profile edits, role changes
// and password handling. Passwords are stored as bcrypt hashes only.
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a new UserService instance
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func hashSecret(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func secretMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateUser creates a new user with a bcrypt-hashed password. An empty
// role defaults to the regular user role.
func (s *UserService) CreateUser(username, password, displayName string, role models.UserRole) (*models.User, error) {
	if len(password) < minPasswordLength {
		return nil, ErrPasswordTooShort
	}

	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, ErrInvalidRole
	}

	var taken int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&taken).Error; err != nil {
		return nil, err
	}
	if taken > 0 {
		return nil, ErrUserAlreadyExists
	}

	hash, err := hashSecret(password)
	if err != nil {
		return nil, err
	}

	newUser := &models.User{
		Username:     username,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         string(role),
	}
	if err := s.db.Create(newUser).Error; err != nil {
		return nil, err
	}
	return newUser, nil
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(id uint) (*models.User, error) {
	var foundUser models.User
	if err := s.db.First(&foundUser, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &foundUser, nil
}

// GetUserByUsername retrieves a user by username
func (s *UserService) GetUserByUsername(username string) (*models.User, error) {
	var foundUser models.User
	if err := s.db.Where("username = ?", username).First(&foundUser).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &foundUser, nil
}

// UpdateUser updates user profile information
func (s *UserService) UpdateUser(id uint, displayName string) (*models.User, error) {
	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return nil, err
	}

	foundUser.DisplayName = displayName
	if err := s.db.Save(foundUser).Error; err != nil {
		return nil, err
	}
	return foundUser, nil
}

// SetUserRole changes a user's role. Demoting the last remaining admin is
// refused so the system always keeps at least one.
func (s *UserService) SetUserRole(id uint, role models.UserRole) (*models.User, error) {
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, ErrInvalidRole
	}

	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return nil, err
	}

	if foundUser.IsAdmin() && role != models.RoleAdmin {
		count, err := s.countAdmins()
		if err != nil {
			return nil, err
		}
		if count <= 1 {
			return nil, ErrLastAdmin
		}
	}

	foundUser.Role = string(role)
	if err := s.db.Save(foundUser).Error; err != nil {
		return nil, err
	}
	return foundUser, nil
}

// DeleteUser deletes a user. The last remaining admin cannot be deleted.
func (s *UserService) DeleteUser(id uint) error {
	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return err
	}

	if foundUser.IsAdmin() {
		count, err := s.countAdmins()
		if err != nil {
			return err
		}
		if count <= 1 {
			return ErrLastAdmin
		}
	}

	// Audit log entries stay behind with the acting user's ID
	return s.db.Delete(foundUser).Error
}

// ListUsers returns all users
func (s *UserService) ListUsers() ([]models.User, error) {
	var users []models.User
	if err := s.db.Order("username ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *UserService) countAdmins() (int64, error) {
	var count int64
	err := s.db.Model(&models.User{}).Where("role = ?", string(models.RoleAdmin)).Count(&count).Error
	return count, err
}

// VerifyPassword checks a username and password pair and returns the
// matching user. Unknown users and wrong passwords are indistinguishable
// to the caller.
func (s *UserService) VerifyPassword(username, password string) (*models.User, error) {
	foundUser, err := s.GetUserByUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !secretMatches(foundUser.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return foundUser, nil
}

// ChangePassword replaces a user's password after verifying the old one
func (s *UserService) ChangePassword(id uint, oldPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrPasswordTooShort
	}

	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return err
	}

	if !secretMatches(foundUser.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}

	hash, err := hashSecret(newPassword)
	if err != nil {
		return err
	}

	foundUser.PasswordHash = hash
	return s.db.Save(foundUser).Error
}

// ResetPassword sets a new password without checking the old one. Kept
// for the admin CLI so a lost password can be recovered from the host.
func (s *UserService) ResetPassword(id uint, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrPasswordTooShort
	}

	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return err
	}

	hash, err := hashSecret(newPassword)
	if err != nil {
		return err
	}

	foundUser.PasswordHash = hash
	return s.db.Save(foundUser).Error
}
