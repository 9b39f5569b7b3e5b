package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/nodeservice"
)

// Client dispatches policy requests to remote nodes over HTTPS, the
// concrete implementation of internal/policy.NodeClient. It does not
// verify a node's TLS certificate: neither a public CA chain nor the
// TLSCertDER published in the node's metadata is checked.
type Client struct {
	sch    *scheme.Scheme
	http   *http.Client
	scheme string // "https" in production; tests may override to "http"
}

// NewClient builds a Client with the given per-request timeout. Nodes are
// addressed by the host:port published in their own NodeMetadata.
func NewClient(sch *scheme.Scheme, timeout time.Duration) *Client {
	return &Client{
		sch: sch,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, //nolint:gosec // the server certificate is not verified, see the Client doc
		},
		scheme: "https",
	}
}

// UsePlainHTTP switches the client to unencrypted HTTP, for tests
// exercising the wire protocol against an httptest.Server without TLS.
func (c *Client) UsePlainHTTP() { c.scheme = "http" }

func (c *Client) url(node *key.NodeMetadata, path string) string {
	return fmt.Sprintf("%s://%s%s", c.scheme, node.Address(), path)
}

func (c *Client) post(ctx context.Context, node *key.NodeMetadata, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(node, path), bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnreachable, "could not build request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnreachable, fmt.Sprintf("request to %s failed", node.Address()), err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnreachable, "could not read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorForStatus(resp.StatusCode, string(bytes.TrimSpace(out)))
	}
	return out, nil
}

// errorForStatus recovers an approximate errs.Code from a response status
// code for a caller that only has the wire status to go on — the inverse
// of statusForError, lossy where several codes map to one status (e.g. 500
// covers every internal Crypto/Authorization failure alike).
func errorForStatus(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return errs.New(errs.CodeMalformedRequest, msg)
	case http.StatusUnauthorized:
		return errs.New(errs.CodeSignature, msg)
	case http.StatusPaymentRequired:
		return errs.New(errs.CodeUnpaid, msg)
	case http.StatusForbidden:
		return errs.New(errs.CodeAEAD, msg)
	case http.StatusNotFound:
		return errs.New(errs.CodeUnknownRitual, msg)
	case http.StatusPreconditionRequired:
		return errs.New(errs.CodeConditionFalse, msg)
	case http.StatusServiceUnavailable:
		return errs.New(errs.CodeRitualNotReady, msg)
	default:
		return errs.New(errs.CodeNotEnoughFragments, msg) // generic internal failure bucket for an unrecognized 5xx
	}
}

// Reencrypt implements internal/policy.NodeClient.
func (c *Client) Reencrypt(ctx context.Context, node *key.NodeMetadata, req *nodeservice.ReencryptionRequest) (*nodeservice.ReencryptionResponse, error) {
	body, err := encodeReencryptionRequest(c.sch, req)
	if err != nil {
		return nil, err
	}
	out, err := c.post(ctx, node, "/reencrypt", body)
	if err != nil {
		return nil, err
	}
	return decodeReencryptionResponse(c.sch, out)
}

// Decrypt implements internal/policy.NodeClient.
func (c *Client) Decrypt(ctx context.Context, node *key.NodeMetadata, envelope *nodeservice.EncryptedThresholdDecryptionRequest) ([]byte, error) {
	body, err := encodeDecryptEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, node, "/decrypt", body)
}

// Revoke implements internal/policy.NodeClient.
func (c *Client) Revoke(ctx context.Context, node *key.NodeMetadata, publisherVK kyber.Point, cert *nodeservice.RevocationCertificate) error {
	body, err := encodeRevokeRequest(publisherVK, cert)
	if err != nil {
		return err
	}
	_, err = c.post(ctx, node, "/revoke", body)
	return err
}

// FetchPublicInformation retrieves and decodes a node's self-published
// metadata from its /public_information endpoint.
func (c *Client) FetchPublicInformation(ctx context.Context, node *key.NodeMetadata) (*key.NodeMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(node, "/public_information"), nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnreachable, "could not build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnreachable, fmt.Sprintf("request to %s failed", node.Address()), err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnreachable, "could not read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorForStatus(resp.StatusCode, string(bytes.TrimSpace(out)))
	}
	return DecodeNodeMetadata(c.sch, out)
}

// ExchangeMetadata implements the node_metadata gossip round trip against
// one peer: send checksum/announcement, decode its signed reply.
func (c *Client) ExchangeMetadata(ctx context.Context, node *key.NodeMetadata, req *nodeservice.MetadataRequest) (*nodeservice.MetadataResponse, error) {
	body, err := encodeMetadataRequest(c.sch, req)
	if err != nil {
		return nil, err
	}
	out, err := c.post(ctx, node, "/node_metadata", body)
	if err != nil {
		return nil, err
	}
	return decodeMetadataResponse(c.sch, out)
}
