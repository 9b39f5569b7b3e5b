package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/kabukky/httpscerts"
	hexjson "github.com/nikkolasg/hexjson"

	"github.com/nucypher/taco/common"
	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/log"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/metrics"
	"github.com/nucypher/taco/internal/nodeservice"
)

const requestIDHeader = "X-Taco-Request-Id"

// EVMChain names one EVM-compatible chain the node's condition backend is
// willing to evaluate conditions against, for the /condition_chains
// diagnostic.
type EVMChain struct {
	Name    string
	ChainID int
}

// Server exposes one node.Service over HTTPS: public_information,
// node_metadata, reencrypt, decrypt, revoke, ping, condition_chains and
// status, routed with chi the same way a beacon process routes its own
// public API, wrapped in gorilla/handlers recovery and combined access-log
// middleware (the access log is written to io.Discard) instead of an
// OpenTelemetry wrapper this project does not carry.
type Server struct {
	sch       *scheme.Scheme
	svc       *nodeservice.Service
	publicInf func() ([]byte, error)
	chains    []EVMChain
	log       log.Logger

	handler http.Handler
}

// NewServer builds the routed handler for svc. publicInformation supplies
// the node's own signed NodeMetadata on demand (internal/transport does not
// own node identity, only transport); chains lists the EVM chains exposed
// by /condition_chains.
func NewServer(sch *scheme.Scheme, svc *nodeservice.Service, publicInformation func() ([]byte, error), chains []EVMChain, logger log.Logger) *Server {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	s := &Server{sch: sch, svc: svc, publicInf: publicInformation, chains: chains, log: logger}

	mux := chi.NewMux()
	mux.Get("/public_information", s.handlePublicInformation)
	mux.Post("/node_metadata", s.handleNodeMetadata)
	mux.Post("/reencrypt", s.handleReencrypt)
	mux.Post("/decrypt", s.handleDecrypt)
	mux.Post("/revoke", s.handleRevoke)
	mux.Get("/ping", s.handlePing)
	mux.Get("/condition_chains", s.handleConditionChains)
	mux.Get("/status", s.handleStatus)

	s.handler = requestIDMiddleware(handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(io.Discard, metricsMiddleware(mux))))
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware records per-route request counts and latency into
// internal/metrics, wrapping the mux before chi routing so every route
// (including a 404 for an unmatched path) is observed.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}

// ServeHTTP lets *Server be used directly as an http.Handler, e.g. with
// http.ListenAndServeTLS.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(requestIDHeader) == "" {
			r.Header.Set(requestIDHeader, uuid.NewString())
		}
		w.Header().Set(requestIDHeader, r.Header.Get(requestIDHeader))
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, log log.Logger, reqID string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Errorw("node request failed", "request_id", reqID, "error", err)
	} else {
		log.Debugw("node request refused", "request_id", reqID, "status", status, "error", err)
	}
	if errs.Suspicious(err) {
		log.Warnw("suspicious request", "request_id", reqID, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBytes))
}

const maxRequestBytes = 8 << 20 // 8 MiB; generous for a handful of capsules/cfrags, well short of a DoS budget

func (s *Server) handlePublicInformation(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	buf, err := s.publicInf()
	if err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(buf)
}

func (s *Server) handleNodeMetadata(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		writeError(w, s.log, reqID, errs.Wrap(errs.CodeMalformedRequest, "could not read request body", err))
		return
	}
	req, err := decodeMetadataRequest(s.sch, body)
	if err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	resp, err := s.svc.NodeMetadataExchange(req)
	if err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	out, err := encodeMetadataResponse(s.sch, resp)
	if err != nil {
		writeError(w, s.log, reqID, errs.Wrap(errs.CodeMalformedRequest, "could not encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(out)
}

func (s *Server) handleReencrypt(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		writeError(w, s.log, reqID, errs.Wrap(errs.CodeMalformedRequest, "could not read request body", err))
		return
	}
	req, err := decodeReencryptionRequest(s.sch, body)
	if err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	resp, err := s.svc.Reencrypt(r.Context(), req)
	if err != nil {
		if errs.Is(err, errs.CodeConditionFalse) {
			metrics.ReencryptionCFragsReturned.WithLabelValues("condition_denied").Add(float64(len(req.Capsules)))
		}
		writeError(w, s.log, reqID, err)
		return
	}
	metrics.ReencryptionCFragsReturned.WithLabelValues("granted").Add(float64(len(resp.CFrags)))
	out, err := encodeReencryptionResponse(resp)
	if err != nil {
		writeError(w, s.log, reqID, errs.Wrap(errs.CodeMalformedRequest, "could not encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(out)
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		writeError(w, s.log, reqID, errs.Wrap(errs.CodeMalformedRequest, "could not read request body", err))
		return
	}
	envelope, err := decodeDecryptEnvelope(s.sch, body)
	if err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	start := time.Now()
	out, err := s.svc.Decrypt(r.Context(), envelope)
	if err != nil {
		metrics.ObserveDecryption(codeNameForError(err), time.Since(start))
		writeError(w, s.log, reqID, err)
		return
	}
	metrics.ObserveDecryption("", time.Since(start))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(out)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		writeError(w, s.log, reqID, errs.Wrap(errs.CodeMalformedRequest, "could not read request body", err))
		return
	}
	publisherVK, cert, err := decodeRevokeRequest(s.sch, body)
	if err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	if err := s.svc.Revoke(publisherVK, cert); err != nil {
		writeError(w, s.log, reqID, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handlePing answers with the caller's source IP as observed by this node,
// letting a node behind NAT learn its own externally-visible address the
// way it would from a STUN server, without standing up one.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, host)
}

type conditionChainsResponse struct {
	Version string           `json:"version"`
	EVM     []conditionChain `json:"evm"`
}

type conditionChain struct {
	Name    string `json:"name"`
	ChainID int    `json:"chain_id"`
}

func (s *Server) handleConditionChains(w http.ResponseWriter, r *http.Request) {
	resp := conditionChainsResponse{Version: common.GetAppVersion().String()}
	for _, c := range s.chains {
		resp.EVM = append(resp.EVM, conditionChain{Name: c.Name, ChainID: c.ChainID})
	}
	buf, err := hexjson.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf)
}

type statusResponse struct {
	Version    string   `json:"version"`
	Uptime     string   `json:"uptime"`
	KnownNodes int      `json:"known_known_nodes,omitempty"`
	NodeList   []string `json:"known_nodes,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	asJSON := r.URL.Query().Get("json") == "true"
	omitKnown := r.URL.Query().Get("omit_known_nodes") == "true"

	resp := statusResponse{Version: common.GetAppVersion().String(), Uptime: time.Since(startTime).String()}
	if !omitKnown {
		for _, n := range s.svc.Directory().Snapshot() {
			resp.NodeList = append(resp.NodeList, n.Address())
		}
		resp.KnownNodes = len(resp.NodeList)
	}

	if !asJSON {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "version="+resp.Version+" uptime="+resp.Uptime+" known_nodes="+strconv.Itoa(resp.KnownNodes))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

var startTime = time.Now()

// ListenAndServeTLS starts s on addr using a self-signed certificate at
// certPath/keyPath, generating one for host if none exists yet. It does not
// copy the certificate into the node's NodeMetadata.TLSCertDER, and Client
// does not check peers' certificates against that field.
func ListenAndServeTLS(ctx context.Context, addr, certPath, keyPath, host string, s *Server) error {
	if err := httpscerts.Check(certPath, keyPath); err != nil {
		if err := httpscerts.Generate(certPath, keyPath, host); err != nil {
			return err
		}
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv.ListenAndServeTLS(certPath, keyPath)
}
