// Command tokengen mints a signed bearer token for exercising protected
// gateway routes during development.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	var (
		secret  = flag.String("secret", os.Getenv("GATEWAY_AUTH__JWT_SECRET"), "signing secret (defaults to GATEWAY_AUTH__JWT_SECRET)")
		subject = flag.String("sub", "", "token subject (user id)")
		role    = flag.String("role", "student", "token role claim")
		ttl     = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	if *secret == "" || *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -secret <secret> -sub <user-id> [-role role] [-ttl 1h]")
		os.Exit(1)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  *subject,
		"role": *role,
		"iat":  now.Unix(),
		"exp":  now.Add(*ttl).Unix(),
	})

	signed, err := token.SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
