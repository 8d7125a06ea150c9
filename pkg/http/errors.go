package http

import (
	"errors"

	bgerr "github.com/ragchat/bluegreen/pkg/errors"
)

var ErrorUnauthorized = &bgerr.Error{
	Type: bgerr.User,
	Help: `The request failed authentication

This most likely means you have a missing or incorrect token. Please
make sure you supply a service token, either by setting the
environment variable BLUEGREEN_TOKEN, or using the argument --token
with bgctl.

`,
	Err: errors.New("request failed authentication"),
}

func MakeAPINotFound(path string) *bgerr.Error {
	return &bgerr.Error{
		Type: bgerr.Missing,
		Help: `The API endpoint requested is not supported by this server.

This indicates that your client (probably bgctl) is either out of
date, or faulty. Please see

    https://github.com/ragchat/bluegreen/releases

for releases of bgctl.

If you still have problems, please file an issue at

    https://github.com/ragchat/bluegreen/issues

mentioning what you were attempting to do, and include this path:

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
