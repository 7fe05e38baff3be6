package backend

import "time"

// User is the account the backend associates with a wallet
type User struct {
	ID            int64  `json:"id"`
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// Identity is the result of a successful verification
type Identity struct {
	AccessToken  string
	RefreshToken string

	// AccessExpiry is zero when the token is opaque
	AccessExpiry time.Time
	User         User

	// AlreadyLinked reports that the wallet was associated with the account
	// before this verification
	AlreadyLinked bool
}

// VerifyRequest carries a signed challenge to the backend
type VerifyRequest struct {
	Address    string
	Signature  string
	Message    string
	WalletType string
	ChainID    uint64
}

// TrackRequest records a wallet connection
type TrackRequest struct {
	WalletType string
	Address    string
	ChainID    uint64
	Timestamp  time.Time
}

// TrackingOutcome is the result of recording a connection
type TrackingOutcome struct {
	Recorded      bool
	AlreadyLinked bool
}

type loginBody struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
	WalletType    string `json:"wallet_type"`
	ChainID       uint64 `json:"chain_id"`
}

type loginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    User   `json:"user"`
}

type linkBody struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
}

type trackBody struct {
	WalletType string `json:"walletType"`
	Address    string `json:"address"`
	ChainID    uint64 `json:"chainId"`
	Timestamp  string `json:"timestamp"`
}
