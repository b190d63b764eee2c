package client

import "context"

// AuthService authenticates users and manages session tokens.
type AuthService struct {
	c *Client
}

// Login exchanges credentials for a session bearer token. The token is
// installed on the client for subsequent requests; it is also what the
// realtime channel authenticates with.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	err := s.c.post(ctx, "/api/v1/auth/login", LoginRequest{Email: email, Password: password}, &sess)
	if err != nil {
		return nil, err
	}
	s.c.SetToken(sess.Token)
	return &sess, nil
}

// Refresh exchanges the current token for a fresh one before it expires.
func (s *AuthService) Refresh(ctx context.Context) (*Session, error) {
	var sess Session
	if err := s.c.post(ctx, "/api/v1/auth/refresh", nil, &sess); err != nil {
		return nil, err
	}
	s.c.SetToken(sess.Token)
	return &sess, nil
}

// Logout invalidates the current session server-side and clears the token.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.c.post(ctx, "/api/v1/auth/logout", nil, nil); err != nil {
		return err
	}
	s.c.SetToken("")
	return nil
}
