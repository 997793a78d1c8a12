package licensekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"licensekit/internal/codec"
	"licensekit/internal/config"
	"licensekit/internal/cryptoadapter"
	licerrors "licensekit/internal/errors"
	"licensekit/internal/logging"
	"licensekit/internal/store"
	"licensekit/internal/telemetry"
	"licensekit/internal/transport"
)

// Strategy selects how Validate decides whether to contact the server
// before selecting a local activation.
type Strategy int

const (
	// LocalOnly never contacts the server; it selects and loads whatever
	// the local store already has.
	LocalOnly Strategy = iota
	// LocalValidOnly behaves like LocalOnly but only loads the selection
	// if it validates to Valid; used for a fast, silent startup check.
	LocalValidOnly
	// Online refreshes activations that are stale or near expiry, then
	// selects locally.
	Online
	// ForceOnline refreshes every matching activation, then selects
	// locally.
	ForceOnline
)

func (s Strategy) String() string {
	switch s {
	case LocalOnly:
		return "LocalOnly"
	case LocalValidOnly:
		return "LocalValidOnly"
	case Online:
		return "Online"
	case ForceOnline:
		return "ForceOnline"
	default:
		return "Unknown"
	}
}

// Subscriber is notified with the controller's current activation pointer
// (which may be nil) after every Validate call.
type Subscriber func(current *Activation)

// Subscription is a handle returned by AddListener. Close unsubscribes it;
// hosts that want RAII-style teardown call it in a defer.
type Subscription struct {
	controller *Controller
	id         uint64
}

// Close unsubscribes the listener. It is safe to call more than once.
func (s Subscription) Close() {
	s.controller.RemoveListener(s)
}

// Unsubscribe is an alias for Close, named to match the "addListener /
// removeListener" vocabulary used elsewhere in this package.
func (s Subscription) Unsubscribe() {
	s.Close()
}

// Controller is the activation core: it owns the product binding, the
// server client, the local store, and the set of subscribers notified on
// every Validate call. It is not internally thread-safe — callers must
// serialize invocations, typically from a single goroutine or worker.
type Controller struct {
	machineUid []byte

	productData *ProductData
	client      *transport.Client
	db          *store.DB

	adapter cryptoadapter.Adapter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.ActivationMetrics

	rateLimitRPS   float64
	rateLimitBurst int

	databaseFileOverride string

	current   *Activation
	listeners map[uint64]Subscriber
	nextID    uint64
}

// New returns a Controller bound to machineUid. SetProductData must be
// called before any other method.
func New(machineUid []byte, opts ...Option) *Controller {
	c := &Controller{
		machineUid:     machineUid,
		adapter:        cryptoadapter.New(),
		logger:         slog.Default(),
		rateLimitRPS:   defaultRateLimitRPS,
		rateLimitBurst: defaultRateLimitBurst,
		listeners:      make(map[uint64]Subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetProductData decodes a base64-encoded ProductData blob, (re)creates the
// server client bound to the primary address, and (re)opens the local
// store at a path derived from the organisation name. Subsequent
// operations fail with a ConfigurationError until this has succeeded.
func (c *Controller) SetProductData(encoded string) error {
	productData, err := DecodeProductData(encoded)
	if err != nil {
		return err
	}

	dbPath := c.databaseFileOverride
	if dbPath == "" {
		dbPath, err = config.ActivationsDatabasePath(productData.OrganisationName)
		if err != nil {
			return licerrors.Configuration("failed to resolve activations database path", err)
		}
	}

	var db *store.DB
	if c.db == nil {
		db, err = store.Open(store.Options{DatabaseFile: dbPath})
	} else {
		db, err = c.db.Reopen(store.Options{DatabaseFile: dbPath})
	}
	if err != nil {
		return err
	}

	c.db = db
	c.productData = productData
	c.client = transport.New(productData.PrimaryPublicServerAddress, rate.Limit(c.rateLimitRPS), c.rateLimitBurst)
	c.current = nil

	c.logger.Info("licensekit: product data set",
		slog.String("organisation_name", productData.OrganisationName),
		slog.String("product_uid", productData.ProductUid))
	return nil
}

func (c *Controller) requireReady() error {
	if c.productData == nil || c.client == nil || c.db == nil {
		return licerrors.Configuration("product data not set", nil)
	}
	return nil
}

// GetStatus returns StatusNoActivationLoaded if no activation is currently
// selected, otherwise the current activation's latched status.
func (c *Controller) GetStatus() Status {
	if c.current == nil {
		return StatusNoActivationLoaded
	}
	return c.current.Status()
}

// GetStatusUserMessage formats GetStatus for display, masking validation
// internals when hideDetails is true.
func (c *Controller) GetStatusUserMessage(hideDetails bool) string {
	licenseType := LicenseUndefined
	if c.current != nil {
		licenseType = c.current.LicenseType
	}
	return c.GetStatus().UserMessage(hideDetails, licenseType)
}

// AddListener calls sub immediately with the current activation pointer,
// then registers it to be called again after every future Validate call.
func (c *Controller) AddListener(sub Subscriber) Subscription {
	sub(c.current)

	c.nextID++
	id := c.nextID
	c.listeners[id] = sub
	return Subscription{controller: c, id: id}
}

// RemoveListener unregisters a subscription. Safe to call more than once
// or on an already-removed subscription.
func (c *Controller) RemoveListener(sub Subscription) {
	delete(c.listeners, sub.id)
}

func (c *Controller) notifyListeners() {
	for _, sub := range c.listeners {
		sub(c.current)
	}
}

// Validate is the central flow: depending on strategy it may refresh
// stale or all matching activations from the server, then it always
// re-reads every local activation for (productUid, machineUid), picks the
// most valuable one, re-validates it, and stores it as the current
// activation — subject to LocalValidOnly discarding a non-Valid pick.
// Subscribers are notified exactly once with the final pointer.
func (c *Controller) Validate(ctx context.Context, strategy Strategy) (*Activation, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	validate := func(ctx context.Context) (bool, error) {
		if strategy == Online || strategy == ForceOnline {
			if err := c.refresh(ctx, strategy == ForceOnline); err != nil {
				return false, err
			}
		}

		rows, err := c.db.ListFor(ctx, c.productData.ProductUid, c.machineUid)
		if err != nil {
			return false, err
		}

		best := PickMostValuable(rowsToActivations(rows))
		if best != nil {
			best.Validate(c.productData.ProductUid, c.machineUid, c.productData.VerifyingKey, c.adapter)
			if strategy == LocalValidOnly && best.Status() != StatusValid {
				best = nil
			}
		}

		c.current = best
		c.notifyListeners()

		return best != nil && best.Status() == StatusValid, nil
	}

	var valid bool
	var err error
	if c.metrics != nil && c.tracer != nil {
		valid, err = c.metrics.TraceValidate(ctx, c.tracer, strategy.String(), validate)
	} else {
		valid, err = validate(ctx)
	}

	c.logger.InfoContext(ctx, "licensekit: validate",
		slog.String("strategy", strategy.String()),
		slog.Bool("valid", valid),
		slog.Any("error", err))

	if err != nil {
		return nil, err
	}
	return c.current, nil
}

// refresh fetches the server's current view of every local activation
// that is stale, near expiry, or (if forceAll) every local activation, and
// applies the diff atomically: activations the server still lists are
// upserted, activations the server dropped are deleted.
func (c *Controller) refresh(ctx context.Context, forceAll bool) error {
	nowMillis := time.Now().UnixMilli()

	rows, err := c.db.ListNeedingUpdate(ctx, c.productData.ProductUid, c.machineUid, nowMillis, forceAll)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	candidates := rowsToActivations(rows)

	resp, err := c.client.Post(ctx, transport.EndpointUpdateActivations, candidates)
	if err != nil {
		return err
	}
	if err := resp.RaiseIfNotSuccessful(); err != nil {
		return err
	}

	var returned []Activation
	if err := json.Unmarshal(resp.Body, &returned); err != nil {
		return licerrors.Server(resp.StatusCode, "response was not a valid activation array")
	}

	returnedHashes := make(map[string]struct{}, len(returned))
	upserted := make([]store.Row, 0, len(returned))
	for i := range returned {
		returnedHashes[string(returned[i].Hash)] = struct{}{}
		upserted = append(upserted, activationToRow(&returned[i]))
	}

	var deletedHashes [][]byte
	for _, candidate := range candidates {
		if _, stillPresent := returnedHashes[string(candidate.Hash)]; !stillPresent {
			deletedHashes = append(deletedHashes, candidate.Hash)
		}
	}

	return c.db.ApplyRefresh(ctx, upserted, deletedHashes, nowMillis)
}

// Activate requests a new activation for (email, licenseKey) and installs
// it locally on success.
func (c *Controller) Activate(ctx context.Context, email, licenseKey string) (*Activation, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if email == "" || licenseKey == "" {
		return nil, licerrors.Input("empty email or license key", nil)
	}

	do := func(ctx context.Context) error {
		req := ActivationRequest{
			ProductUid:   c.productData.ProductUid,
			MachineUid:   codec.EncodeBase64(c.machineUid),
			EmailAddress: email,
			LicenseKey:   licenseKey,
		}

		resp, err := c.client.Post(ctx, transport.EndpointActivate, req)
		if err != nil {
			return err
		}
		if err := resp.RaiseIfNotSuccessful(); err != nil {
			return err
		}

		var activation Activation
		if err := json.Unmarshal(resp.Body, &activation); err != nil {
			return licerrors.Server(resp.StatusCode, "response was not a valid activation")
		}

		return c.installActivation(ctx, &activation)
	}

	var err error
	if c.metrics != nil && c.tracer != nil {
		err = c.metrics.TraceActivate(ctx, c.tracer, c.productData.ProductUid, do)
	} else {
		err = do(ctx)
	}

	c.logger.InfoContext(ctx, "licensekit: activate",
		slog.String("email", logging.MaskEmail(email)),
		slog.String("license_key", logging.MaskLicenseKey(licenseKey)),
		slog.Any("error", err))
	if err != nil {
		return nil, err
	}
	return c.current, nil
}

// StartTrial requests a new trial activation for email and installs it
// locally on success.
func (c *Controller) StartTrial(ctx context.Context, email string) (*Activation, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if email == "" {
		return nil, licerrors.Input("empty email", nil)
	}

	req := TrialRequest{
		ProductUid:   c.productData.ProductUid,
		MachineUid:   codec.EncodeBase64(c.machineUid),
		EmailAddress: email,
	}

	resp, err := c.client.Post(ctx, transport.EndpointActivateTrial, req)
	if err == nil {
		if err = resp.RaiseIfNotSuccessful(); err == nil {
			var activation Activation
			if err = json.Unmarshal(resp.Body, &activation); err != nil {
				err = licerrors.Server(resp.StatusCode, "response was not a valid activation")
			} else {
				err = c.installActivation(ctx, &activation)
			}
		}
	}

	c.logger.InfoContext(ctx, "licensekit: trial", slog.String("email", logging.MaskEmail(email)), slog.Any("error", err))
	if err != nil {
		return nil, err
	}
	return c.current, nil
}

// installActivation validates a against the current product, machine, and
// verifying key; on success it is saved to the store and Validate(Online)
// is run again to refresh subscribers.
func (c *Controller) installActivation(ctx context.Context, a *Activation) error {
	status := a.Validate(c.productData.ProductUid, c.machineUid, c.productData.VerifyingKey, c.adapter)
	if status != StatusValid {
		return licerrors.Validation(string(status))
	}

	if err := c.db.Save(ctx, activationToRow(a), time.Now().UnixMilli()); err != nil {
		return err
	}

	_, err := c.Validate(ctx, Online)
	return err
}

// InstallActivation is the public entry point for installing an
// already-fetched activation, e.g. one read from an activation response
// file outside of InstallActivationFile's own file-shape handling.
func (c *Controller) InstallActivation(ctx context.Context, a *Activation) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	return c.installActivation(ctx, a)
}

// SaveActivationRequest builds an offline request envelope and writes it
// to file, replacing any existing contents. Set trial to build a trial
// request instead of a full activation request.
func (c *Controller) SaveActivationRequest(email, licenseKey, file string, trial bool) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if email == "" || (!trial && licenseKey == "") {
		return licerrors.Input("empty email or license key", nil)
	}

	machineUidB64 := codec.EncodeBase64(c.machineUid)

	var envelope *OfflineRequest
	var err error
	if trial {
		envelope, err = NewOfflineTrialRequest(c.adapter, c.productData.ProductUid, machineUidB64, email, nil, c.productData.CryptoPublicKey)
	} else {
		envelope, err = NewOfflineActivationRequest(c.adapter, c.productData.ProductUid, machineUidB64, email, licenseKey, nil, c.productData.CryptoPublicKey)
	}
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return licerrors.Input("failed to encode offline request envelope", err)
	}

	return writeFileAtomically(file, data)
}

// InstallActivationFile reads a single activation JSON document from file
// and installs it. If the file actually contains a request envelope (the
// kind SaveActivationRequest produces, meant to be carried to an online
// machine and exchanged for a response), it fails with a FileShapeError
// instead of silently misinterpreting it.
func (c *Controller) InstallActivationFile(ctx context.Context, file string) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return licerrors.Input(fmt.Sprintf("failed to read activation file %s", file), err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if _, ok := probe["ActivationRequest"]; ok {
			return licerrors.FileShape("This is a request file. Please install a response file.")
		}
		if _, ok := probe["TrialRequest"]; ok {
			return licerrors.FileShape("This is a request file. Please install a response file.")
		}
	}

	var activation Activation
	if err := json.Unmarshal(data, &activation); err != nil {
		return licerrors.Input("activation file does not contain a valid activation", err)
	}

	return c.installActivation(ctx, &activation)
}

// DestroyAllLocalActivations deletes every local row for the current
// product and machine and returns the count removed. It does not contact
// the server, so re-activating afterward consumes no extra server-side
// seat.
func (c *Controller) DestroyAllLocalActivations(ctx context.Context) (int, error) {
	if err := c.requireReady(); err != nil {
		return 0, err
	}

	count, err := c.db.DeleteAllFor(ctx, c.productData.ProductUid, c.machineUid)
	if err != nil {
		return 0, err
	}

	c.current = nil
	c.notifyListeners()
	return count, nil
}

// GetTrialStatus reports whether a trial has never been started, has
// expired, or is currently active for the current product and machine.
func (c *Controller) GetTrialStatus(ctx context.Context) (TrialStatus, error) {
	if err := c.requireReady(); err != nil {
		return "", err
	}

	rows, err := c.db.ListTrialsFor(ctx, c.productData.ProductUid, c.machineUid)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return TrialAvailable, nil
	}

	best := PickMostValuable(rowsToActivations(rows))
	if best.IsExpired() {
		return TrialExpired, nil
	}
	return TrialActive, nil
}

func rowsToActivations(rows []store.Row) []*Activation {
	activations := make([]*Activation, len(rows))
	for i := range rows {
		activations[i] = rowToActivation(rows[i])
	}
	return activations
}

func rowToActivation(row store.Row) *Activation {
	return &Activation{
		Hash:             row.Hash,
		ProductUid:       row.ProductUid,
		MachineUid:       row.MachineUid,
		ExpiresAt:        millisToTime(row.ExpiresAt),
		LicenseExpiresAt: millisToTime(row.LicenseExpiresAt),
		LicenseType:      LicenseType(row.LicenseType),
		Signature:        row.Signature,
	}
}

func activationToRow(a *Activation) store.Row {
	row := store.Row{
		Hash:        a.Hash,
		ProductUid:  a.ProductUid,
		MachineUid:  a.MachineUid,
		LicenseType: string(a.LicenseType),
		Signature:   a.Signature,
	}
	if a.ExpiresAt != nil {
		millis := a.ExpiresAt.UnixMilli()
		row.ExpiresAt = &millis
	}
	if a.LicenseExpiresAt != nil {
		millis := a.LicenseExpiresAt.UnixMilli()
		row.LicenseExpiresAt = &millis
	}
	return row
}

func writeFileAtomically(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".licensekit-*.tmp")
	if err != nil {
		return licerrors.Input(fmt.Sprintf("failed to create temp file in %s", dir), err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return licerrors.Input("failed to write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return licerrors.Input("failed to close temp file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return licerrors.Input(fmt.Sprintf("failed to replace %s", path), err)
	}
	return nil
}
