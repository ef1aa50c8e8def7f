// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ticket implements the authentication ticket exchange that precedes
every business call to the customs services.

A ticket request (TRA) is a small XML document naming the target service
and a validity window. It is signed with the company certificate as a CMS
SignedData structure with the document attached, base64 encoded and sent
to the loginCms operation of the authentication service. The reply carries
a credential document with a token and a sign value.

# Building and Signing

	req, err := ticket.NewRequest("wgesregsintia2", time.Now(), 12*time.Hour)
	cms, err := ticket.CMSSigner{}.Sign(ctx, req.Bytes(), creds)

Request.Bytes returns the exact serialization that is signed. Callers must
never re-serialize the request between signing and transmission.

Signing happens in process by default. CommandSigner runs an external
openssl binary instead, for deployments that must keep the historical
signing path.

# Exchange

	client := ticket.NewClient(caller, logger)
	cred, err := client.Login(ctx, endpoint, cms)

A SOAP fault is returned as a *FaultError wrapping ErrLoginFault. A reply
whose token or sign is empty wraps ErrMissingCredentials. No credential is
ever synthesized on failure.
*/
package ticket
