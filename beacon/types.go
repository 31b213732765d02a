// Package beacon implements a minimal consensus-layer client: node metadata,
// slot timing, and blob sidecar retrieval with KZG verification.
package beacon

import (
	"github.com/alloy-rs/alloy-sub000/eth"
)

type APIVersionResponse struct {
	Data VersionInformation `json:"data"`
}

type VersionInformation struct {
	Version string `json:"version"`
}

type ReducedGenesisData struct {
	GenesisTime eth.Uint64String `json:"genesis_time"`
}

type APIGenesisResponse struct {
	Data ReducedGenesisData `json:"data"`
}

type ReducedConfigData struct {
	SecondsPerSlot eth.Uint64String `json:"SECONDS_PER_SLOT"`
}

type APIConfigResponse struct {
	Data ReducedConfigData `json:"data"`
}

type APIGetBlobSidecarsResponse struct {
	Data []*eth.APIBlobSidecar `json:"data"`
}
