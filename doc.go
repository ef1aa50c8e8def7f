// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package gocustoms submits cargo manifests, bills of lading and related
documents to the Argentine and Paraguayan customs webservices and keeps a
durable record of every exchange.

# Overview

A customs submission is a short sequence of SOAP calls against an
authority's business service. Each call needs a session credential issued
by the authority's authentication service in exchange for a CMS signed
login ticket. go-customs caches those credentials, builds the wire
messages, drives multi-step voyages through a state machine, interprets
the replies and records every transaction, step, track identifier and
error in a ledger so that a failed voyage can be resumed without
resending what the authority already accepted.

# Package Structure

	github.com/sirosfoundation/go-customs/pkg/domain      - Voyages, shipments, bills of lading and attachments
	github.com/sirosfoundation/go-customs/pkg/ticket      - Login ticket requests, CMS signing and the login exchange
	github.com/sirosfoundation/go-customs/pkg/token       - Credential cache with single-flight renewal
	github.com/sirosfoundation/go-customs/pkg/wire        - Operation registry, validation and SOAP envelopes
	github.com/sirosfoundation/go-customs/pkg/transport   - HTTPS transport with TLS 1.2/1.3
	github.com/sirosfoundation/go-customs/pkg/response    - Reply interpretation, track and reference extraction
	github.com/sirosfoundation/go-customs/pkg/pipeline    - Submission state machine, voyages, resume and attachments
	github.com/sirosfoundation/go-customs/pkg/ledger      - Transaction ledger
	github.com/sirosfoundation/go-customs/pkg/errclass    - Operator facing error classification
	github.com/sirosfoundation/go-customs/pkg/reliability - Retry policy and in-flight tracking

The engine in internal/engine wires these packages from a YAML
configuration onto SQLite, MongoDB or in-memory storage, with an optional
Redis token cache, and cmd/customsctl exposes it on the command line.

# Quick Start

	cfg, err := config.Load("customs.yaml")
	if err != nil {
	    return err
	}
	e, err := engine.New(ctx, cfg)
	if err != nil {
	    return err
	}
	defer e.Close(ctx)

	company, _ := e.Company("acme")
	res, err := e.Pipeline.SubmitVoyage(ctx, pipeline.VoyageSubmission{
	    Company:     company,
	    Environment: "testing",
	    Voyage:      voyage,
	})

A failed voyage is resumed with Pipeline.Resume, which replays the steps
already acknowledged from the ledger and sends only the rest.

# License

BSD-2-Clause License
*/
package gocustoms
