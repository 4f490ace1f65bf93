package controllers

import (
	"net/http"

	"github.com/angelmondragon/solcoupons-backend/api/responses"
	"github.com/angelmondragon/solcoupons-backend/pkg/config"
)

type statusResponse struct {
	PoolAddress  string `json:"pool_address"`
	Network      string `json:"network"`
	TransferMode string `json:"transfer_mode"`
	StoreBackend string `json:"store_backend"`
}

// Status reports the pool address and how this instance moves and stores funds.
func Status(cfg *config.Config) http.HandlerFunc {
	payload := statusResponse{
		PoolAddress:  cfg.Pool.Address,
		Network:      cfg.Pool.Network,
		TransferMode: cfg.Transfer.Mode,
		StoreBackend: cfg.Store.Backend,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, payload)
	}
}
