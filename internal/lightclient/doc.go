// Package lightclient speaks the v2 HTTP API of a data-availability light
// client.
//
// A light client is started for one app id and signs submissions itself, so
// Client carries no keys. The endpoints used are:
//
//	GET  /v2/status                      {"blocks":{"latest":N},"app_id":A}
//	GET  /v2/blocks/{height}/data        {"block_number":N,"data_transactions":[{"data":"<base64>"}]}
//	POST /v2/submit {"data":"<base64>"}  {"block_number":N}
//
// Server exposes any ledger.Client (the local SQLite devnet, for example)
// under the same API, so the Client can be exercised without a network.
package lightclient

// wire types shared by Client and Server.

type statusResponse struct {
	Blocks struct {
		Latest uint64 `json:"latest"`
	} `json:"blocks"`
	AppID *uint32 `json:"app_id,omitempty"`
}

type dataTransaction struct {
	Data []byte `json:"data"`
}

type blockDataResponse struct {
	BlockNumber      uint64            `json:"block_number"`
	DataTransactions []dataTransaction `json:"data_transactions"`
}

type submitRequest struct {
	Data []byte `json:"data"`
}

type submitResponse struct {
	BlockNumber uint64 `json:"block_number"`
}

type errorResponse struct {
	Error string `json:"error"`
}
