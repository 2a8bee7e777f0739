package identity

import (
	"context"
	"strings"
)

// Seed creates users from "name:password" pairs, skipping names that already exist.
// It returns how many users were created.
func Seed(ctx context.Context, s Store, pairs []string) (int, error) {
	n := 0
	for _, p := range pairs {
		name, pass, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			return n, invalid("identity.Seed", "expected name:password")
		}
		_, err := s.CreateUser(ctx, CreateUserInput{Username: name, Password: pass})
		if IsConflict(err) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
