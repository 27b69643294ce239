package session

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var errIdentityNotObject = errors.New("identity is not a JSON object")

// Identity is the profile of the logged-in user as returned by the backend.
// The full object is kept verbatim in Raw so screens can read fields this
// type does not model.
type Identity struct {
	ID             string
	Name           string
	FirstSurname   string
	SecondSurname  string
	DocumentNumber string
	Role           string
	Raw            json.RawMessage
}

// ParseIdentity decodes the backend "usuario" object. Field names follow the
// backend, with a few aliases seen across its endpoints.
func ParseIdentity(raw []byte) (*Identity, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("identity is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, errIdentityNotObject
	}

	first := func(paths ...string) string {
		for _, p := range paths {
			if v := doc.Get(p); v.Exists() && v.Type != gjson.Null {
				return strings.TrimSpace(v.String())
			}
		}
		return ""
	}

	return &Identity{
		ID:             first("id", "_id", "usuario_id"),
		Name:           first("nombre", "nombres", "name"),
		FirstSurname:   first("apellido_paterno"),
		SecondSurname:  first("apellido_materno"),
		DocumentNumber: first("numero_documento", "documento"),
		Role:           first("rol.nombre", "rol", "role"),
		Raw:            append(json.RawMessage(nil), raw...),
	}, nil
}

// DisplayName joins the given name and surnames.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{i.Name, i.FirstSurname, i.SecondSurname} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func (i *Identity) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", i.ID).
		Str("rol", i.Role).
		Str("nombre", i.DisplayName())
}
