package http

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/blindmix/coordinator/internal/core/application"
	"github.com/blindmix/coordinator/internal/core/domain"
)

// roundState is the wire shape of one entry in GET /states.
type roundState struct {
	Phase                      string  `json:"phase"`
	Denomination               uint64  `json:"denomination"`
	RegisteredPeerCount        int     `json:"registered_peer_count"`
	RequiredPeerCount          int     `json:"required_peer_count"`
	MaxInputsPerPeer           int     `json:"max_inputs_per_peer"`
	RegistrationTimeoutSeconds int     `json:"registration_timeout_seconds"`
	FeePerInput                uint64  `json:"fee_per_input"`
	FeePerOutput               uint64  `json:"fee_per_output"`
	CoordinatorFeePercent      float64 `json:"coordinator_fee_percent"`
	RoundID                    int64   `json:"round_id"`
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	rounds := s.coordinator.RunningRounds()
	states := make([]roundState, 0, len(rounds))
	for _, round := range rounds {
		round.RLock()
		if round.IsRunning() {
			states = append(states, roundState{
				Phase:                      round.Phase.String(),
				Denomination:               round.Params.Denomination,
				RegisteredPeerCount:        round.AliceCount(),
				RequiredPeerCount:          round.AnonymitySet,
				MaxInputsPerPeer:           domain.MaxInputsPerAlice,
				RegistrationTimeoutSeconds: int(round.Params.AliceRegistrationTimeout.Seconds()),
				FeePerInput:                round.Params.FeePerInput,
				FeePerOutput:               round.Params.FeePerOutput,
				CoordinatorFeePercent:      round.Params.CoordinatorFeePercent,
				RoundID:                    round.ID,
			})
		}
		round.RUnlock()
	}
	writeJSON(w, http.StatusOK, states)
}

type wireInput struct {
	Input struct {
		Hash string `json:"hash"`
		N    uint32 `json:"n"`
	} `json:"input"`
	Value  uint64 `json:"value"`
	Script string `json:"script"`
	Proof  string `json:"proof"`
}

type registerInputsRequest struct {
	BlindedOutputHex   string      `json:"blinded_output_hex"`
	ChangeOutputScript string      `json:"change_output_script"`
	Inputs             []wireInput `json:"inputs"`
}

type registerInputsResponse struct {
	UniqueID               string `json:"unique_id"`
	BlindedOutputSignature string `json:"blinded_output_signature"`
	RoundID                int64  `json:"round_id"`
}

func (s *Server) handleRegisterInputs(w http.ResponseWriter, r *http.Request) {
	var body registerInputsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "INVALID_REQUEST", Message: "malformed JSON body"})
		return
	}

	refs := make([]application.InputRef, 0, len(body.Inputs))
	for _, in := range body.Inputs {
		proof, err := hex.DecodeString(in.Proof)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Kind: "INVALID_REQUEST", Message: "malformed proof hex"})
			return
		}
		refs = append(refs, application.InputRef{
			Outpoint: domain.Outpoint{Txid: in.Input.Hash, VOut: in.Input.N},
			Value:    in.Value,
			Script:   in.Script,
			Proof:    proof,
		})
	}

	resp, err := s.coordinator.RegisterAlice(r.Context(), application.RegisterAliceRequest{
		BlindedOutputHex: body.BlindedOutputHex,
		ChangeScript:     body.ChangeOutputScript,
		Inputs:           refs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerInputsResponse{
		UniqueID:               resp.UniqueID,
		BlindedOutputSignature: hex.EncodeToString(resp.BlindedSignature),
		RoundID:                resp.RoundID,
	})
}

func parseRoundAndUniqueID(r *http.Request) (int64, string, error) {
	roundID, err := strconv.ParseInt(r.URL.Query().Get("round_id"), 10, 64)
	if err != nil {
		return 0, "", domain.NewRejection(domain.KindInvalidRequest, "round_id is required and must be an integer")
	}
	uniqueID := r.URL.Query().Get("unique_id")
	if uniqueID == "" {
		return 0, "", domain.NewRejection(domain.KindInvalidRequest, "unique_id is required")
	}
	return roundID, uniqueID, nil
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	roundID, uniqueID, err := parseRoundAndUniqueID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.coordinator.ConfirmConnection(r.Context(), roundID, uniqueID)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.RoundHash == "" {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RoundHash string `json:"round_hash"`
	}{RoundHash: result.RoundHash})
}

func (s *Server) handleUnconfirmation(w http.ResponseWriter, r *http.Request) {
	roundID, uniqueID, err := parseRoundAndUniqueID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.coordinator.UnregisterAlice(roundID, uniqueID); err != nil {
		if rej, ok := domain.AsRejection(err); ok && rej.Kind == domain.KindNotFound {
			writeJSON(w, http.StatusOK, errorBody{Kind: rej.Kind.String(), Message: "already unregistered"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type registerOutputRequest struct {
	OutputScript string `json:"output_script"`
	SignatureHex string `json:"signature_hex"`
}

func (s *Server) handleRegisterOutput(w http.ResponseWriter, r *http.Request) {
	roundHash := r.URL.Query().Get("round_hash")
	if roundHash == "" {
		writeError(w, domain.NewRejection(domain.KindInvalidRequest, "round_hash is required"))
		return
	}

	var body registerOutputRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "INVALID_REQUEST", Message: "malformed JSON body"})
		return
	}
	sig, err := hex.DecodeString(body.SignatureHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "INVALID_REQUEST", Message: "malformed signature hex"})
		return
	}

	if err := s.coordinator.RegisterBob(application.RegisterBobRequest{
		RoundHash:          roundHash,
		OutputScript:       body.OutputScript,
		UnblindedSignature: sig,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetCoinJoin(w http.ResponseWriter, r *http.Request) {
	uniqueID := r.PathValue("unique_id")
	roundID, err := strconv.ParseInt(r.URL.Query().Get("round_id"), 10, 64)
	if err != nil {
		writeError(w, domain.NewRejection(domain.KindInvalidRequest, "round_id is required and must be an integer"))
		return
	}

	tx, err := s.coordinator.GetCoinJoin(roundID, uniqueID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Hex string `json:"unsigned_tx_hex"`
	}{Hex: tx.Hex})
}

type wireSignature struct {
	Input struct {
		Hash string `json:"hash"`
		N    uint32 `json:"n"`
	} `json:"input"`
	WitnessSigHex string `json:"witness_sig_hex"`
	PubKeyHex     string `json:"pubkey_hex"`
}

func (s *Server) handlePostSignatures(w http.ResponseWriter, r *http.Request) {
	roundID, uniqueID, err := parseRoundAndUniqueID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body []wireSignature
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "INVALID_REQUEST", Message: "malformed JSON body"})
		return
	}

	sigs := make([]domain.InputSignature, 0, len(body))
	for _, ws := range body {
		witnessSig, err := hex.DecodeString(ws.WitnessSigHex)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Kind: "INVALID_REQUEST", Message: "malformed witness_sig_hex"})
			return
		}
		pubKey, err := hex.DecodeString(ws.PubKeyHex)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Kind: "INVALID_REQUEST", Message: "malformed pubkey_hex"})
			return
		}
		sigs = append(sigs, domain.InputSignature{
			Outpoint:   domain.Outpoint{Txid: ws.Input.Hash, VOut: ws.Input.N},
			WitnessSig: witnessSig,
			PubKey:     pubKey,
		})
	}

	if err := s.coordinator.PostSignatures(r.Context(), application.PostSignaturesRequest{
		RoundID:    roundID,
		UniqueID:   uniqueID,
		Signatures: sigs,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
