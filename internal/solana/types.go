package solana

import (
	"encoding/json"
	"strconv"
)

// SignatureInfo from getSignaturesForAddress
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// ParsedTransaction is a getTransaction result in jsonParsed encoding
type ParsedTransaction struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction TransactionBody  `json:"transaction"`
}

// Signature returns the transaction's first signature
func (t *ParsedTransaction) Signature() string {
	if len(t.Transaction.Signatures) == 0 {
		return ""
	}
	return t.Transaction.Signatures[0]
}

// Failed reports whether the transaction carries an execution error
func (t *ParsedTransaction) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}

// BlockTimeMillis returns the block time in unix milliseconds, or 0 when unknown
func (t *ParsedTransaction) BlockTimeMillis() int64 {
	if t.BlockTime == nil {
		return 0
	}
	return *t.BlockTime * 1000
}

// AccountIndex returns the position of address in the account keys, or -1
func (t *ParsedTransaction) AccountIndex(address string) int {
	for i, key := range t.Transaction.Message.AccountKeys {
		if key.Pubkey == address {
			return i
		}
	}
	return -1
}

// FeePayer returns the first account key, which always pays the fee
func (t *ParsedTransaction) FeePayer() string {
	if len(t.Transaction.Message.AccountKeys) == 0 {
		return ""
	}
	return t.Transaction.Message.AccountKeys[0].Pubkey
}

// Signers returns all signing account keys
func (t *ParsedTransaction) Signers() []string {
	var signers []string
	for _, key := range t.Transaction.Message.AccountKeys {
		if key.Signer {
			signers = append(signers, key.Pubkey)
		}
	}
	return signers
}

// AllInstructions returns outer instructions followed by inner instructions
func (t *ParsedTransaction) AllInstructions() []Instruction {
	out := append([]Instruction(nil), t.Transaction.Message.Instructions...)
	if t.Meta != nil {
		for _, inner := range t.Meta.InnerInstructions {
			out = append(out, inner.Instructions...)
		}
	}
	return out
}

// TransactionMeta holds execution metadata
type TransactionMeta struct {
	Err               interface{}        `json:"err"`
	Fee               uint64             `json:"fee"`
	PreBalances       []uint64           `json:"preBalances"`
	PostBalances      []uint64           `json:"postBalances"`
	PreTokenBalances  []TokenBalance     `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance     `json:"postTokenBalances"`
	InnerInstructions []InnerInstruction `json:"innerInstructions"`
	LogMessages       []string           `json:"logMessages"`
}

// TokenBalance is a token account balance before or after execution
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// UITokenAmount is a raw token amount with its decimals
type UITokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       uint8    `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// InnerInstruction groups CPI instructions under their outer instruction index
type InnerInstruction struct {
	Index        int           `json:"index"`
	Instructions []Instruction `json:"instructions"`
}

// TransactionBody is the signed part of a transaction
type TransactionBody struct {
	Signatures []string `json:"signatures"`
	Message    Message  `json:"message"`
}

// Message is the parsed transaction message
type Message struct {
	AccountKeys  []AccountKey  `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
}

// AccountKey is one account referenced by the message
type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// Instruction is a jsonParsed instruction. Parsed is absent for programs the
// node cannot decode and may be a bare string for some programs.
type Instruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed,omitempty"`
}

const (
	ProgramSystem       = "system"
	ProgramSPLToken     = "spl-token"
	ProgramSPLToken2022 = "spl-token-2022"
)

type parsedInstruction struct {
	Type string       `json:"type"`
	Info TransferInfo `json:"info"`
}

// TransferInfo is the info block of a system or token transfer instruction
type TransferInfo struct {
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Authority   string         `json:"authority"`
	Mint        string         `json:"mint"`
	Lamports    uint64         `json:"lamports"`
	Amount      string         `json:"amount"`
	TokenAmount *UITokenAmount `json:"tokenAmount"`

	// MultisigAuthority replaces Authority for multisig-owned accounts
	MultisigAuthority string `json:"multisigAuthority"`
}

// Transfer decodes a transfer, transferChecked or transferWithSeed instruction
func (i Instruction) Transfer() (*TransferInfo, bool) {
	if len(i.Parsed) == 0 || i.Parsed[0] != '{' {
		return nil, false
	}
	if i.Program != ProgramSystem && !i.IsToken() {
		return nil, false
	}

	var parsed parsedInstruction
	if err := json.Unmarshal(i.Parsed, &parsed); err != nil {
		return nil, false
	}
	switch parsed.Type {
	case "transfer", "transferChecked", "transferWithSeed":
	default:
		return nil, false
	}

	info := parsed.Info
	if info.Authority == "" {
		info.Authority = info.MultisigAuthority
	}
	return &info, true
}

// IsToken reports whether the transfer moved fungible tokens
func (i Instruction) IsToken() bool {
	return i.Program == ProgramSPLToken || i.Program == ProgramSPLToken2022
}

// RawAmount returns the token transfer amount in base units
func (t *TransferInfo) RawAmount() (uint64, error) {
	if t.TokenAmount != nil {
		return strconv.ParseUint(t.TokenAmount.Amount, 10, 64)
	}
	if t.Amount == "" {
		return 0, nil
	}
	return strconv.ParseUint(t.Amount, 10, 64)
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string        `json:"mint"`
						Owner       string        `json:"owner"`
						TokenAmount UITokenAmount `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}
