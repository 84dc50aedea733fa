// Copyright 2023 MeerkatDB Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handler

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/password"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgCreateUser implements `createUser` command.
func (h *Handler) MsgCreateUser(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	username, err := getRequiredParam[string](document, "createUser")
	if err != nil {
		return nil, err
	}

	if username == "" {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"User document needs 'user' field to be non-empty",
			"createUser",
		)
	}

	pwd, err := getRequiredParam[string](document, "pwd")
	if err != nil {
		return nil, err
	}

	if pwd == "" {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"Password cannot be empty",
			"pwd",
		)
	}

	if err = checkMechanisms(document); err != nil {
		return nil, err
	}

	hash, err := password.SCRAMSHA256Hash(pwd)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	cred := &credentials.Credential{
		Username:       username,
		AuthDB:         dbName,
		StoredKey:      hash.StoredKey,
		ServerKey:      hash.ServerKey,
		Salt:           hash.Salt,
		IterationCount: hash.IterationCount,
	}

	if err = h.Credentials.Store(ctx, cred); err != nil {
		if errors.Is(err, credentials.ErrAlreadyExists) {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrUserAlreadyExists,
				fmt.Sprintf("User \"%s@%s\" already exists", username, dbName),
				"createUser",
			)
		}

		return nil, lazyerrors.Error(err)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}

// checkMechanisms rejects requests for authentication mechanisms other than SCRAM-SHA-256.
func checkMechanisms(document bsoncore.Document) error {
	arr, err := getOptionalParam[bsoncore.Array](document, "mechanisms", nil)
	if err != nil {
		return err
	}

	if arr == nil {
		return nil
	}

	values, err := arr.Values()
	if err != nil {
		return lazyerrors.Error(err)
	}

	if len(values) == 0 {
		return handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"mechanisms field must not be empty",
			"mechanisms",
		)
	}

	for _, v := range values {
		mechanism, ok := v.StringValueOK()
		if !ok {
			return handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrTypeMismatch,
				fmt.Sprintf("BSON field 'mechanisms' is the wrong type '%s', expected type 'string'", aliasType(v.Type)),
				"mechanisms",
			)
		}

		if mechanism != "SCRAM-SHA-256" {
			return handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrBadValue,
				fmt.Sprintf("Unknown auth mechanism '%s'", mechanism),
				"mechanisms",
			)
		}
	}

	return nil
}
