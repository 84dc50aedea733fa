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

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// userRef identifies a single user of an authentication database.
type userRef struct {
	username string
	db       string
}

// MsgUsersInfo implements `usersInfo` command.
func (h *Handler) MsgUsersInfo(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	v, err := document.LookupErr("usersInfo")
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	refs, all, err := userRefs(v, dbName)
	if err != nil {
		return nil, err
	}

	if all {
		usernames, err := h.Credentials.List(ctx, dbName)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		for _, username := range usernames {
			refs = append(refs, userRef{username: username, db: dbName})
		}
	}

	users := bsoncore.NewArrayBuilder()

	for _, ref := range refs {
		if _, err = h.Credentials.Lookup(ctx, ref.username, ref.db); err != nil {
			// unknown users are simply absent from the response
			if errors.Is(err, credentials.ErrNotFound) {
				continue
			}

			return nil, lazyerrors.Error(err)
		}

		users.AppendDocument(bsoncore.NewDocumentBuilder().
			AppendString("_id", ref.db+"."+ref.username).
			AppendString("user", ref.username).
			AppendString("db", ref.db).
			AppendArray("roles", bsoncore.NewArrayBuilder().Build()).
			AppendArray("mechanisms", bsoncore.NewArrayBuilder().AppendString("SCRAM-SHA-256").Build()).
			Build())
	}

	res := bsoncore.NewDocumentBuilder().
		AppendArray("users", users.Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}

// userRefs interprets the usersInfo argument:
// a number requests all users of the database,
// a string or a {user, db} document a single user,
// and an array a combination of those.
func userRefs(v bsoncore.Value, dbName string) ([]userRef, bool, error) {
	switch v.Type {
	case bsontype.Int32, bsontype.Int64, bsontype.Double:
		return nil, true, nil

	case bsontype.String:
		return []userRef{{username: v.StringValue(), db: dbName}}, false, nil

	case bsontype.EmbeddedDocument:
		ref, err := userRefFromDocument(v.Document(), dbName)
		if err != nil {
			return nil, false, err
		}

		return []userRef{*ref}, false, nil

	case bsontype.Array:
		values, err := v.Array().Values()
		if err != nil {
			return nil, false, lazyerrors.Error(err)
		}

		refs := make([]userRef, 0, len(values))

		for _, av := range values {
			switch av.Type {
			case bsontype.String:
				refs = append(refs, userRef{username: av.StringValue(), db: dbName})

			case bsontype.EmbeddedDocument:
				ref, err := userRefFromDocument(av.Document(), dbName)
				if err != nil {
					return nil, false, err
				}

				refs = append(refs, *ref)

			default:
				return nil, false, handlererrors.NewCommandErrorMsgWithArgument(
					handlererrors.ErrBadValue,
					fmt.Sprintf("UserName must be either a string or an object; got %s", aliasType(av.Type)),
					"usersInfo",
				)
			}
		}

		return refs, false, nil

	default:
		return nil, false, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"UserName must be either a string or an object",
			"usersInfo",
		)
	}
}

// userRefFromDocument converts a {user, db} document into a userRef.
func userRefFromDocument(doc bsoncore.Document, dbName string) (*userRef, error) {
	username, err := getRequiredParam[string](doc, "user")
	if err != nil {
		return nil, err
	}

	db, err := getOptionalParam(doc, "db", dbName)
	if err != nil {
		return nil, err
	}

	return &userRef{username: username, db: db}, nil
}
