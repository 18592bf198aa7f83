// Package creds normalizes the AWS credential material a COPY statement
// embeds in its CREDENTIALS clause.
package creds

import (
	"errors"
	"fmt"
)

var (
	ErrIncompleteRole = errors.New("both account id and role name are required for iam role credentials")
	ErrIncompleteKeys = errors.New("both access key id and secret access key are required for key credentials")
	ErrNoCredentials  = errors.New("no aws credentials configured: set an access key pair or an iam role")
)

// Credentials carries the AWS material configured for one transfer. Exactly
// one variant is rendered: if any role field is set the assumed-role form is
// used, otherwise the explicit key form.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	AccountID string
	RoleName  string
}

// CopyString renders the credential string the warehouse bulk-load statement
// expects, e.g. `aws_iam_role=arn:aws:iam::123:role/loader` or
// `aws_access_key_id=...;aws_secret_access_key=...[;token=...]`.
func (c Credentials) CopyString() (string, error) {
	switch {
	case c.AccountID != "" || c.RoleName != "":
		if c.AccountID == "" || c.RoleName == "" {
			return "", ErrIncompleteRole
		}
		return fmt.Sprintf("aws_iam_role=arn:aws:iam::%s:role/%s", c.AccountID, c.RoleName), nil
	case c.AccessKeyID != "" || c.SecretAccessKey != "":
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return "", ErrIncompleteKeys
		}
		credentials := fmt.Sprintf("aws_access_key_id=%s;aws_secret_access_key=%s", c.AccessKeyID, c.SecretAccessKey)
		if c.SessionToken != "" {
			credentials += ";token=" + c.SessionToken
		}
		return credentials, nil
	default:
		return "", ErrNoCredentials
	}
}
