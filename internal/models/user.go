package models

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

// User is an operator account with access to every client.
type User struct {
	ID       	string `bson:"_id,omitempty" json:"id,omitempty"`
	Username 	string `bson:"username" json:"username"`
	Email 		string `bson:"email" json:"email"`
	Role 		string `bson:"role" json:"role"`
	Password 	string `bson:"password,omitempty" json:"-"`
}

const bcryptCost = 12

func (u *User) HashPassword(password string) error {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return err
	}
	u.Password = string(bytes)
	return nil
}

func (u *User) CheckPassword(providedPassword string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(providedPassword))
}

// UserStore persists operator accounts in the "users" collection.
type UserStore struct {
	collection *mongo.Collection
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{collection: db.Collection("users")}
}

// FindUserByUsername returns nil, nil when no such user exists.
func (s *UserStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.collection.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

func (s *UserStore) CreateUser(ctx context.Context, user *User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.collection.InsertOne(ctx, user)
	return err
}
