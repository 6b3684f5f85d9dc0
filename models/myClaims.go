package models

import (
	jwt "github.com/dgrijalva/jwt-go"
)

// MyClaims is the JWT claim set issued at login and presented on the
// websocket authenticate message.
type MyClaims struct {
	UserID   string `json:"userid"`
	Nickname string `json:"nickname"`
	jwt.StandardClaims
}
