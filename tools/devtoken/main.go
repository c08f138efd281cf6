package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eceaydogan/dentaplan/libs/auth"
)

// Mints a signed bearer token for local testing against the clinic API.
func main() {
	var (
		sub    = flag.String("sub", "", "subject (patient id; empty for staff)")
		name   = flag.String("name", "", "display name")
		role   = flag.String("role", "patient", "role: patient or staff")
		ttl    = flag.Duration("ttl", 24*time.Hour, "token lifetime")
		secret = flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(2)
	}

	now := time.Now()
	token, err := auth.SignHS256(auth.Claims{
		Sub:  strings.TrimSpace(*sub),
		Name: strings.TrimSpace(*name),
		Role: strings.TrimSpace(*role),
		Iat:  now.Unix(),
		Exp:  now.Add(*ttl).Unix(),
	}, *secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	fmt.Println(token)
}
