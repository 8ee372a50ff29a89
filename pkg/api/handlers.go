package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pullpay/pkg/auth"
	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/host"
	"github.com/platinummonkey/pullpay/pkg/httputil"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"github.com/platinummonkey/pullpay/pkg/observability"
)

// Handlers serves the subscription plugin over HTTP
type Handlers struct {
	runtime *host.Runtime
	engine  *billing.Engine
}

// NewHandlers creates handlers for the subscription plugin installed in rt
func NewHandlers(rt *host.Runtime, engine *billing.Engine) *Handlers {
	return &Handlers{
		runtime: rt,
		engine:  engine,
	}
}

// RegisterRoutes registers the v1 routes. mws apply to v1 routes only.
func (h *Handlers) RegisterRoutes(router *mux.Router, mws ...mux.MiddlewareFunc) {
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(mws...)

	// Invocations
	v1.HandleFunc("/userops", h.UserOp).Methods(http.MethodPost)
	v1.HandleFunc("/runtime", h.RuntimeCall).Methods(http.MethodPost)

	// Reads
	v1.HandleFunc("/subscriptions/{payee}", h.ListSubscriptions).Methods(http.MethodGet)
	v1.HandleFunc("/subscriptions/{payee}/{payer}", h.GetSubscription).Methods(http.MethodGet)
	v1.HandleFunc("/plugin", h.GetPlugin).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/balance", h.GetBalance).Methods(http.MethodGet)
}

// UserOp invokes an operation on the user operation path. The bearer token
// is handed to the ownership validator.
func (h *Handlers) UserOp(w http.ResponseWriter, r *http.Request) {
	credential, _ := auth.ExtractBearer(r.Header.Get("Authorization"))
	h.invoke(w, r, authz.PathUserOp, credential)
}

// RuntimeCall invokes an operation directly on the runtime path
func (h *Handlers) RuntimeCall(w http.ResponseWriter, r *http.Request) {
	h.invoke(w, r, authz.PathRuntime, "")
}

func (h *Handlers) invoke(w http.ResponseWriter, r *http.Request, path authz.CallPath, credential string) {
	var req InvocationRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	op := authz.OperationID(req.Operation)
	args := argsFor(op, req)
	if args != nil {
		if details, err := httputil.Validate(args); err != nil {
			httputil.WriteDetailedError(w, http.StatusBadRequest, err, details)
			return
		}
	}

	out, err := h.runtime.Invoke(r.Context(), host.Call{
		PluginID:   billing.PluginID,
		Operation:  op,
		Path:       path,
		Caller:     req.Caller,
		Args:       args,
		Credential: credential,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := InvocationResponse{Operation: req.Operation, Result: out}
	if op == billing.OpCreateSubscription {
		_ = httputil.WriteCreated(w, resp)
		return
	}
	_ = httputil.WriteSuccess(w, resp)
}

func argsFor(op authz.OperationID, req InvocationRequest) interface{} {
	switch op {
	case billing.OpCreateSubscription:
		return &billing.CreateSubscriptionArgs{Payee: req.Payee, Amount: req.Amount}
	case billing.OpCollectPayment:
		return &billing.CollectPaymentArgs{Payer: req.Payer, Amount: req.Amount}
	default:
		return nil
	}
}

// ListSubscriptions lists a payee's subscribers
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	payee, err := httputil.ParsePathString(r, "payee")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.engine.Subscribers(r.Context(), payee)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now, cadence := h.engine.Now(), h.engine.Cadence()
	resp := SubscriptionList{Payee: payee, Subscriptions: make([]SubscriptionView, 0, len(entries))}
	for _, e := range entries {
		resp.Subscriptions = append(resp.Subscriptions, NewView(e, now, cadence))
	}
	_ = httputil.WriteSuccess(w, resp)
}

// GetSubscription returns a single subscription
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payee, payer := vars["payee"], vars["payer"]

	rec, err := h.engine.Subscription(r.Context(), payee, payer)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry := ledger.Entry{Payee: payee, Payer: payer, Record: rec}
	_ = httputil.WriteSuccess(w, NewView(entry, h.engine.Now(), h.engine.Cadence()))
}

// GetPlugin returns the installed plugin's metadata and manifest
func (h *Handlers) GetPlugin(w http.ResponseWriter, r *http.Request) {
	info, ok := h.runtime.Registry().Info(billing.PluginID)
	if !ok {
		writeError(w, r, host.ErrPluginNotInstalled)
		return
	}

	_ = httputil.WriteSuccess(w, PluginResponse{
		Metadata:    info.Metadata,
		Manifest:    info.Manifest,
		InstalledAt: info.InstalledAt,
		Source:      info.Source,
	})
}

// GetBalance returns an account's balance
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := httputil.ParsePathString(r, "account")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	balance, err := h.runtime.Bank().Balance(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, BalanceResponse{Account: account, Balance: balance})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCodedError(w, status, code, err)
}
