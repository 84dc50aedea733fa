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

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// serverParameters are the parameters reported by the getParameter command,
// in the order they are returned.
var serverParameters = []struct {
	name   string
	append func(b *bsoncore.DocumentBuilder)
}{
	{"authSchemaVersion", func(b *bsoncore.DocumentBuilder) {
		b.AppendInt32("authSchemaVersion", 5)
	}},
	{"authenticationMechanisms", func(b *bsoncore.DocumentBuilder) {
		b.AppendArray("authenticationMechanisms", bsoncore.NewArrayBuilder().AppendString("SCRAM-SHA-256").Build())
	}},
	{"featureCompatibilityVersion", func(b *bsoncore.DocumentBuilder) {
		b.AppendDocument("featureCompatibilityVersion", bsoncore.NewDocumentBuilder().AppendString("version", "7.0").Build())
	}},
	{"quiet", func(b *bsoncore.DocumentBuilder) {
		b.AppendBoolean("quiet", false)
	}},
}

// MsgGetParameter implements `getParameter` command.
func (h *Handler) MsgGetParameter(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	v, err := document.LookupErr("getParameter")
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	all := false
	if s, ok := v.StringValueOK(); ok && s == "*" {
		all = true
	}

	res := bsoncore.NewDocumentBuilder()
	found := false

	for _, p := range serverParameters {
		if !all {
			if _, err := document.LookupErr(p.name); err != nil {
				continue
			}
		}

		p.append(res)
		found = true
	}

	if !found {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrInvalidOptions,
			"no option found to get",
			"getParameter",
		)
	}

	res.AppendDouble("ok", 1)

	return wire.NewOpMsg(res.Build())
}
