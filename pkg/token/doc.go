// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package token manages the lifecycle of authentication tokens issued by the
customs authentication services.

A token is keyed by company, service and environment. Manager.Acquire
returns a usable cached token when one exists and otherwise runs the ticket
exchange: build a ticket request, load the company credentials, sign, call
loginCms and persist the result with a fixed TTL.

	mgr, err := token.NewManager(token.Config{
	    Store:       token.NewMemoryStore(),
	    Credentials: certs,
	    Signer:      ticket.CMSSigner{},
	    Exchanger:   ticket.NewClient(caller, logger),
	    Resolver:    endpoints,
	})

	tok, err := mgr.Acquire(ctx, "30712345678", "wgesregsintia2", "testing")

Concurrent misses for the same key are collapsed into a single exchange.
Failures are reported as *Error with Kind set to ErrCertificate, ErrSigning,
ErrRemoteAuthFault or ErrUnavailable. A failed exchange never yields a
token.
*/
package token
