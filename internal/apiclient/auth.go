package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/phillip-england/asistencias/internal/session"
)

type loginRequest struct {
	Documento string `json:"documento"`
	Password  string `json:"password"`
}

// Authenticate posts the login form. Only a 401 is reported as
// session.ErrInvalidCredentials; validation errors keep the backend message.
// Neither counts as an expired session.
func (c *Client) Authenticate(ctx context.Context, identifier, secret string) (session.Grant, error) {
	ctx = withoutFailureDetection(ctx)
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", nil, loginRequest{Documento: identifier, Password: secret})
	if err != nil {
		return session.Grant{}, err
	}
	resp, err := c.send(req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return session.Grant{}, fmt.Errorf("%w: %w", session.ErrInvalidCredentials, apiErr)
		}
		return session.Grant{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return session.Grant{}, fmt.Errorf("%w: read login response: %w", ErrUnavailable, err)
	}
	return parseGrant(body)
}

func parseGrant(body []byte) (session.Grant, error) {
	if !gjson.ValidBytes(body) {
		return session.Grant{}, errors.New("login response is not JSON")
	}
	doc := gjson.ParseBytes(body)

	var grant session.Grant
	for _, path := range []string{"token", "access_token"} {
		if v := doc.Get(path); v.Type == gjson.String && v.String() != "" {
			grant.Credential = v.String()
			break
		}
	}
	if usuario := doc.Get("usuario"); usuario.IsObject() {
		grant.Identity = []byte(usuario.Raw)
	}
	return grant, nil
}

var _ session.Authenticator = (*Client)(nil)
