// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/holomush/keyhold/internal/auth"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

type registerRequest struct {
	Email       string `json:"email,omitempty" jsonschema:"maxLength=254"`
	Password    string `json:"password,omitempty" jsonschema:"maxLength=256"`
	FirstName   string `json:"firstName,omitempty" jsonschema:"maxLength=100"`
	LastName    string `json:"lastName,omitempty" jsonschema:"maxLength=100"`
	ContactNo   string `json:"contactNo,omitempty" jsonschema:"maxLength=32"`
	Role        string `json:"role,omitempty" jsonschema:"maxLength=32"`
	CompanyName string `json:"companyName,omitempty" jsonschema:"maxLength=100"`
}

// challengeRequest carries a raw challenge secret. Code is accepted as an
// alias of Token for clients of the code-mode variant.
type challengeRequest struct {
	Email    string `json:"email,omitempty" jsonschema:"maxLength=254"`
	Token    string `json:"token,omitempty" jsonschema:"maxLength=256"`
	Code     string `json:"code,omitempty" jsonschema:"maxLength=32"`
	Password string `json:"password,omitempty" jsonschema:"maxLength=256"`
}

func (r challengeRequest) secret() string {
	if r.Token != "" {
		return r.Token
	}
	return r.Code
}

type loginRequest struct {
	Email    string `json:"email,omitempty" jsonschema:"maxLength=254"`
	Password string `json:"password,omitempty" jsonschema:"maxLength=256"`
}

type forgotPasswordRequest struct {
	Email string `json:"email,omitempty" jsonschema:"maxLength=254"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty" jsonschema:"maxLength=4096"`
}

type updateProfileRequest struct {
	FirstName   *string `json:"firstName,omitempty" jsonschema:"maxLength=100"`
	LastName    *string `json:"lastName,omitempty" jsonschema:"maxLength=100"`
	ContactNo   *string `json:"contactNo,omitempty" jsonschema:"maxLength=32"`
	CompanyName *string `json:"companyName,omitempty" jsonschema:"maxLength=100"`
}

type messageResponse struct {
	Msg string `json:"msg"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Role         string `json:"role"`
	UserID       string `json:"userId"`
}

type accountView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName,omitempty"`
	ContactNo   string `json:"contactNo,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

func viewOf(a *auth.Account) accountView {
	return accountView{
		ID:          a.ID.String(),
		Email:       a.Email,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		ContactNo:   a.ContactNo,
		CompanyName: a.CompanyName,
		Role:        string(a.Role),
		Status:      string(a.Status),
	}
}

// schemaCache holds one compiled schema per request type.
var schemaCache sync.Map

// schemaFor reflects v's type into a JSON Schema and compiles it.
func schemaFor(v any) (*jschema.Schema, error) {
	typ := reflect.TypeOf(v)
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(*jschema.Schema), nil //nolint:forcetypeassert // cache only stores schemas
	}

	r := jsonschema.Reflector{DoNotReference: true}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("type", typ.String()).Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("type", typ.String()).Wrap(err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("request.json", doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", typ.String()).Wrap(err)
	}
	sch, err := c.Compile("request.json")
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", typ.String()).Wrap(err)
	}
	schemaCache.Store(typ, sch)
	return sch, nil
}

// decode reads a JSON body, validates it against dst's schema and
// unmarshals it into dst. Shape errors are BadRequest.
func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return auth.NewBadRequest("REQUEST_UNREADABLE", "Invalid request body")
	}
	if len(body) > maxBodyBytes {
		return auth.NewBadRequest("REQUEST_TOO_LARGE", "Request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return auth.NewBadRequest("REQUEST_MALFORMED", "Invalid request body")
	}

	sch, err := schemaFor(dst)
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return oops.With("validation", err.Error()).
			Wrap(auth.NewBadRequest("REQUEST_INVALID", "Invalid request body"))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return auth.NewBadRequest("REQUEST_MALFORMED", "Invalid request body")
	}
	return nil
}
