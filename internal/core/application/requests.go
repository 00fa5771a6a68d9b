package application

import "github.com/blindmix/coordinator/internal/core/domain"

// InputRef is a single input offered in a RegisterAliceRequest: the outpoint
// being spent, and a signature proving control of it over the blinded
// output hex.
type InputRef struct {
	Outpoint domain.Outpoint
	Value    uint64
	Script   string
	Proof    []byte
}

// RegisterAliceRequest is the input to Coordinator.RegisterAlice, modeled
// directly on the POST inputs endpoint.
type RegisterAliceRequest struct {
	BlindedOutputHex string
	ChangeScript     string
	Inputs           []InputRef
}

// RegisterAliceResponse is returned on successful admission.
type RegisterAliceResponse struct {
	UniqueID         string
	BlindedSignature []byte
	RoundID          int64
}

// ConfirmConnectionResult distinguishes the two legal outcomes of a
// successful confirm_connection call.
type ConfirmConnectionResult struct {
	// RoundHash is non-empty only once every Alice has confirmed and the
	// round has published its hash on entering OutputRegistration.
	RoundHash string
}

// RegisterBobRequest is the input to Coordinator.RegisterBob.
type RegisterBobRequest struct {
	RoundHash          string
	OutputScript       string
	UnblindedSignature []byte
}

// PostSignaturesRequest carries one Alice's witness signatures over her own
// inputs.
type PostSignaturesRequest struct {
	RoundID    int64
	UniqueID   string
	Signatures []domain.InputSignature
}
