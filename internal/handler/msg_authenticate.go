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
	"fmt"

	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgAuthenticate implements `authenticate` command
// by steering clients towards the SASL exchange.
func (h *Handler) MsgAuthenticate(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	mechanism, err := getOptionalParam(document, "mechanism", "")
	if err != nil {
		return nil, err
	}

	if mechanism != "" && mechanism != "SCRAM-SHA-256" {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrMechanismUnavailable,
			fmt.Sprintf("Unsupported mechanism '%s'", mechanism),
			"mechanism",
		)
	}

	return nil, handlererrors.NewCommandErrorMsgWithArgument(
		handlererrors.ErrAuthenticationFailed,
		"Authentication failed. Use the SCRAM-SHA-256 SASL mechanism via saslStart instead.",
		"authenticate",
	)
}
