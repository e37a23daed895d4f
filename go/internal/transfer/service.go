package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

// TransferServiceName is the fully-qualified name of the transfer service.
const TransferServiceName = "tixmarket.transfer.v1.TransferService"

const (
	TransferServiceReceiveProcedure             = "/" + TransferServiceName + "/Receive"
	TransferServiceFindForUserProcedure         = "/" + TransferServiceName + "/FindForUser"
	TransferServiceListTransferTicketsProcedure = "/" + TransferServiceName + "/ListTransferTickets"
	TransferServiceListOrdersProcedure          = "/" + TransferServiceName + "/ListOrders"
)

type ReceiveRequest struct {
	Authorization models.TransferAuthorization `json:"authorization"`
	ReceiverID    uuid.UUID                    `json:"receiver_user_id"`
}

type ReceiveResponse struct {
	Transfer *models.Transfer `json:"transfer"`
}

type TransferRequest struct {
	TransferID uuid.UUID `json:"transfer_id"`
}

type ListTransferTicketsResponse struct {
	TransferTickets []models.TransferTicket `json:"transfer_tickets"`
}

type ListOrdersResponse struct {
	Orders []models.Order `json:"orders"`
}

// TransfersApp defines what the service layer needs from the transfer application
type TransfersApp interface {
	Receive(ctx context.Context, auth models.TransferAuthorization, receiverID uuid.UUID) (*models.Transfer, error)
	FindForUser(ctx context.Context, req FindForUserRequest) (*TransferPage, error)
	ListTransferTickets(ctx context.Context, transferID uuid.UUID) ([]models.TransferTicket, error)
	Orders(ctx context.Context, transferID uuid.UUID) ([]models.Order, error)
}

// Service implements the transfer service over Connect. Messages are JSON
// encoded Go structs.
type Service struct {
	app TransfersApp
}

// NewService creates a new transfer service
func NewService(app TransfersApp) *Service {
	return &Service{app: app}
}

// Receive completes a transfer from the authorization in a receive link
func (s *Service) Receive(ctx context.Context, req *connect.Request[ReceiveRequest]) (*connect.Response[ReceiveResponse], error) {
	if req.Msg.ReceiverID == uuid.Nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("receiver_user_id is required"))
	}

	t, err := s.app.Receive(ctx, req.Msg.Authorization, req.Msg.ReceiverID)
	if err != nil {
		return nil, connectError(err, "failed to receive transfer")
	}
	return connect.NewResponse(&ReceiveResponse{Transfer: t}), nil
}

// FindForUser lists the transfers a user sent or received
func (s *Service) FindForUser(ctx context.Context, req *connect.Request[FindForUserRequest]) (*connect.Response[TransferPage], error) {
	page, err := s.app.FindForUser(ctx, *req.Msg)
	if err != nil {
		return nil, connectError(err, "failed to find transfers for user")
	}
	return connect.NewResponse(page), nil
}

// ListTransferTickets lists the tickets attached to a transfer
func (s *Service) ListTransferTickets(ctx context.Context, req *connect.Request[TransferRequest]) (*connect.Response[ListTransferTicketsResponse], error) {
	tickets, err := s.app.ListTransferTickets(ctx, req.Msg.TransferID)
	if err != nil {
		return nil, connectError(err, "failed to list transfer tickets")
	}
	return connect.NewResponse(&ListTransferTicketsResponse{TransferTickets: tickets}), nil
}

// ListOrders lists the orders a transfer's tickets came from
func (s *Service) ListOrders(ctx context.Context, req *connect.Request[TransferRequest]) (*connect.Response[ListOrdersResponse], error) {
	orders, err := s.app.Orders(ctx, req.Msg.TransferID)
	if err != nil {
		return nil, connectError(err, "failed to list transfer orders")
	}
	return connect.NewResponse(&ListOrdersResponse{Orders: orders}), nil
}

func connectError(err error, msg string) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, ErrInvalidAuthorization):
		code = connect.CodePermissionDenied
	case errors.Is(err, ErrInvalidRequest):
		code = connect.CodeInvalidArgument
	case errors.Is(err, models.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, ErrNotPending):
		code = connect.CodeFailedPrecondition
	}
	if code == connect.CodeInternal {
		log.Error().Err(err).Msg(msg)
	}
	return connect.NewError(code, err)
}

// NewTransferServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewTransferServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	receive := connect.NewUnaryHandler(TransferServiceReceiveProcedure, svc.Receive, opts...)
	findForUser := connect.NewUnaryHandler(TransferServiceFindForUserProcedure, svc.FindForUser, opts...)
	listTickets := connect.NewUnaryHandler(TransferServiceListTransferTicketsProcedure, svc.ListTransferTickets, opts...)
	listOrders := connect.NewUnaryHandler(TransferServiceListOrdersProcedure, svc.ListOrders, opts...)

	return "/" + TransferServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case TransferServiceReceiveProcedure:
			receive.ServeHTTP(w, r)
		case TransferServiceFindForUserProcedure:
			findForUser.ServeHTTP(w, r)
		case TransferServiceListTransferTicketsProcedure:
			listTickets.ServeHTTP(w, r)
		case TransferServiceListOrdersProcedure:
			listOrders.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// TransferServiceClient calls the transfer service
type TransferServiceClient struct {
	receive     *connect.Client[ReceiveRequest, ReceiveResponse]
	findForUser *connect.Client[FindForUserRequest, TransferPage]
	listTickets *connect.Client[TransferRequest, ListTransferTicketsResponse]
	listOrders  *connect.Client[TransferRequest, ListOrdersResponse]
}

func NewTransferServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *TransferServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &TransferServiceClient{
		receive:     connect.NewClient[ReceiveRequest, ReceiveResponse](httpClient, baseURL+TransferServiceReceiveProcedure, opts...),
		findForUser: connect.NewClient[FindForUserRequest, TransferPage](httpClient, baseURL+TransferServiceFindForUserProcedure, opts...),
		listTickets: connect.NewClient[TransferRequest, ListTransferTicketsResponse](httpClient, baseURL+TransferServiceListTransferTicketsProcedure, opts...),
		listOrders:  connect.NewClient[TransferRequest, ListOrdersResponse](httpClient, baseURL+TransferServiceListOrdersProcedure, opts...),
	}
}

func (c *TransferServiceClient) Receive(ctx context.Context, req *connect.Request[ReceiveRequest]) (*connect.Response[ReceiveResponse], error) {
	return c.receive.CallUnary(ctx, req)
}

func (c *TransferServiceClient) FindForUser(ctx context.Context, req *connect.Request[FindForUserRequest]) (*connect.Response[TransferPage], error) {
	return c.findForUser.CallUnary(ctx, req)
}

func (c *TransferServiceClient) ListTransferTickets(ctx context.Context, req *connect.Request[TransferRequest]) (*connect.Response[ListTransferTicketsResponse], error) {
	return c.listTickets.CallUnary(ctx, req)
}

func (c *TransferServiceClient) ListOrders(ctx context.Context, req *connect.Request[TransferRequest]) (*connect.Response[ListOrdersResponse], error) {
	return c.listOrders.CallUnary(ctx, req)
}

// JSONCodec replaces Connect's protobuf JSON codec so plain structs can be
// used as messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
