// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ledger records every submission attempt made to the customs
services: its status history, payloads, the identifiers extracted from
replies, structured errors and the remote steps already acknowledged.

Records are append-only. Transactions move through a closed status graph:

	pending    -> validating, sending, cancelled, error, expired
	validating -> sending, error, cancelled
	sending    -> sent, retry, error, cancelled
	sent       -> success, error, sending, cancelled
	retry      -> sending, error, cancelled, expired

success, error, cancelled and expired are terminal. Timestamps never move
backwards, and an external reference can only be set together with the
transition to success.

Storage is pluggable through Store. MemoryStore serves tests and single
runs; internal/storage provides MongoDB and SQLite implementations.
*/
package ledger
