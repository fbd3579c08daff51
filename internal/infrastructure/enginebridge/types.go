package enginebridge

import (
	jsoniter "github.com/json-iterator/go"

	"balance_reconciler/internal/domain/entity"
)

// Method names exposed by the engine sidecar under /rpc/{method}.
const (
	methodIsStarted           = "isEngineStarted"
	methodStart               = "startEngine"
	methodSetValidationBypass = "setValidationBypass"
	methodLoadProvider        = "loadProvider"
	methodGetProvider         = "getProvider"
	methodLoadWalletByID      = "loadWalletByID"
	methodCreateWallet        = "createWallet"
	methodGetAddress          = "getWalletAddress"
	methodRefreshBalances     = "refreshBalances"
)

// rpcResponse is the envelope every sidecar call answers with.
type rpcResponse struct {
	Result jsoniter.RawMessage `json:"result"`
	Error  *rpcError           `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type startParams struct {
	WalletSource string `json:"walletSource"`
}

type bypassParams struct {
	Network string `json:"network"`
	Bypass  bool   `json:"bypass"`
}

type providerParams struct {
	Network string                `json:"network"`
	Config  entity.ProviderConfig `json:"config"`
}

type networkParams struct {
	Network string `json:"network"`
}

// argsParams carries positional arguments; the sidecar spreads them into the engine call.
type argsParams struct {
	Args []string `json:"args"`
}

type createWalletParams struct {
	EncryptionKey string `json:"encryptionKey"`
	Mnemonic      string `json:"mnemonic"`
}

type walletParams struct {
	WalletID string `json:"walletId"`
}

type walletsParams struct {
	WalletIDs []string `json:"walletIds"`
}

// walletInfo is what loadWalletByID and createWallet return.
type walletInfo struct {
	ID             string `json:"id"`
	RailgunAddress string `json:"railgunAddress,omitempty"`
}
