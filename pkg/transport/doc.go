// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the SOAP over HTTPS client used to reach the
customs web services.

# TLS Configuration

The client negotiates TLS 1.2 or 1.3:

	config := transport.DefaultHTTPSConfig()
	// MinTLSVersion: TLS 1.2
	// MaxTLSVersion: TLS 1.3

Homologation endpoints sometimes present certificates that do not chain to a
public root. Verification can be turned off with InsecureSkipVerify, but
NewHTTPSClient refuses that setting when Environment is "production".

# Client Usage

	client, err := transport.NewHTTPSClient(&transport.HTTPSConfig{
	    MinTLSVersion: transport.TLS12,
	    Timeout:       60 * time.Second,
	    Environment:   "testing",
	})

	body, err := client.Call(ctx, &transport.Request{
	    Endpoint:    "https://ws.example.gov/service",
	    ContentType: msg.ContentType(),
	    SOAPAction:  msg.SOAPActionHeader(),
	    Body:        msg.Body,
	})

# Errors

Connection failures and gateway statuses (502, 503, 504) wrap ErrNetwork. A
deadline hit wraps ErrTimeout. Both are the only errors Retryable accepts.
401 and 403 wrap ErrAuth so the caller can drop a cached credential. A SOAP
fault arrives as HTTP 500 with an envelope in the body; that body is
returned for interpretation rather than turned into an error. Cancellation
of the caller's context is returned unchanged.
*/
package transport
