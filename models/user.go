package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/edufocus/lending_backend/config"
	"bitbucket.org/edufocus/lending_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Guid      string    `gorm:"size:36;not null;uniqueIndex" json:"guid"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:100;not null;index" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	Role      UserRole  `gorm:"type:enum('A', 'T', 'S');default:'S'" json:"role"`
	Version   int       `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" validate:"required"`
	Name     string   `json:"name" validate:"required"`
	Email    string   `json:"email" validate:"required,email"`
	Phone    string   `json:"phone"`
	Password string   `json:"password" validate:"required,min=8"`
	Role     UserRole `json:"role" validate:"required,oneof=A T S"`
}

var validate = validator.New()

/*
caches:
	User:$username
	AdminAccountList
*/

func (user User) RemoveInstanceRedis() error {
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return err
	}
	return nil
}

func removeAdminListRedis() error {
	return config.RemoveRedisKey("AdminAccountList")
}

func (input *NewUser) validateInput() error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewValidationError("phone number is not valid")
		}
	}
	return nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := input.validateInput(); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	user := User{
		Guid:     uuid.NewString(),
		Username: strings.ToLower(strings.TrimSpace(input.Username)),
		Name:     input.Name,
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:    input.Phone,
		Password: string(hashed),
		IsActive: utils.NewTrue(),
		Role:     input.Role,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	if user.Role == UserRoleAdmin {
		_ = removeAdminListRedis()
	}
	return &user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &user, nil
}

// FindAdmins returns every administrator account, redis-cached.
// Notification fan-out to admins goes through this on every evaluator write,
// so the cache matters.
func FindAdmins(ctx context.Context) ([]User, error) {
	var admins []User
	exists, err := config.GetRedisObject("AdminAccountList", &admins)
	if err != nil {
		return nil, err
	}
	if exists {
		return admins, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("role = ?", UserRoleAdmin).Find(&admins).Error; err != nil {
		return nil, err
	}
	if err := config.SetRedisObject("AdminAccountList", &admins, time.Hour); err != nil {
		return nil, err
	}
	return admins, nil
}

type LoginInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return nil, errors.New("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, errors.New("invalid username or password")
	}
	if user.IsActive == nil || !*user.IsActive {
		return nil, errors.New("account is deactivated")
	}

	token, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisValue("Token:"+token, user.Username, 24*time.Hour); err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token: token,
		Name:  user.Name,
		Role:  string(user.Role),
	}, nil
}
