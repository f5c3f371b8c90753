package net

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	. "dasim/internal/common"
	"dasim/internal/sim"
	"dasim/internal/utils"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	MAX_RECV_SIZE      = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 100 * time.Millisecond
	defaultReadTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrUsernameTaken      = errors.New("username bound to another session")
)

// OrderQueue accepts orders on behalf of remote users.
type OrderQueue interface {
	EnqueueUserOrder(user string, order Order) error
}

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn     net.Conn
	reader   *bufio.Reader
	writeMu  sync.Mutex
	username string
	lastSeen time.Time
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

// Server is the TCP gateway for remote users. Sessions send framed
// NewOrder and Heartbeat messages; orders are queued to the simulation and
// the session receives order and execution reports as rounds complete.
type Server struct {
	address            string
	port               int
	pool               utils.WorkerPool
	queue              OrderQueue
	cancel             context.CancelFunc
	clientSessions     map[string]*ClientSession
	users              map[string]string // username to session address
	clientSessionsLock sync.Mutex
	clientMessages     chan (ClientMessage)

	ready    chan struct{}
	listener net.Listener
}

func New(address string, port int, workers uint, queue OrderQueue) *Server {
	if workers == 0 {
		workers = defaultNWorkers
	}
	return &Server{
		address:        address,
		port:           port,
		pool:           utils.NewWorkerPool(workers),
		queue:          queue,
		clientSessions: make(map[string]*ClientSession),
		users:          make(map[string]string),
		clientMessages: make(chan ClientMessage, utils.TASK_CHAN_SIZE),
		ready:          make(chan struct{}),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("gateway shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Addr blocks until Run has tried to listen and returns the listener's
// address, nil if listening failed.
func (s *Server) Addr() net.Addr {
	<-s.ready
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		close(s.ready)
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.listener = listener
	close(s.ready)

	// Closing the listener unblocks Accept once we are dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeAllSessions()
		return nil
	})

	// Start the worker pool.
	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("gateway running")

	// Start accepting connections.
	t.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-t.Dying():
					return nil
				default:
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")
			// We expect to potentially maintain a long TCP session.
			session := s.addClientSession(conn)

			// Pass over the session to be read from.
			s.pool.AddTask(t, session)
		}
	})

	<-t.Dying()
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// OnRound sends the round's reports to the sessions concerned: an order
// report to the user who acted and an execution report to each user on
// either side of a trade.
func (s *Server) OnRound(report sim.RoundReport) {
	if report.Order != nil && report.Kind == "user" {
		r := Report{
			MessageType: OrderReport,
			Side:        report.Order.Side,
			Outcome:     uint8(report.Result.Outcome),
			Round:       uint32(report.Round),
			Quantity:    report.Result.Filled,
			Price:       report.Order.Price,
			Err:         report.Reason,
		}
		copy(r.UUID[:], report.Result.OrderID[:])
		s.sendToUser(report.Trader, r.Serialize())
	}

	for _, trade := range report.Trades {
		buyer, seller := generateWireTradeReports(report.Round, trade)
		s.sendToUser(trade.Buyer, buyer)
		s.sendToUser(trade.Seller, seller)
	}
}

func (s *Server) sendToUser(username string, payload []byte) {
	s.clientSessionsLock.Lock()
	address, ok := s.users[username]
	s.clientSessionsLock.Unlock()
	if !ok {
		return
	}
	if err := s.Report(address, payload); err != nil {
		log.Error().Err(err).Str("user", username).Msg("unable to send report")
	}
}

// Report writes a framed payload to the session at clientAddress.
func (s *Server) Report(clientAddress string, payload []byte) error {
	s.clientSessionsLock.Lock()
	client, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	frame, err := Frame(payload)
	if err != nil {
		return err
	}

	client.writeMu.Lock()
	_, err = client.conn.Write(frame)
	client.writeMu.Unlock()
	if err != nil {
		s.deleteClientSession(clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// sessionHandler reads off incoming messages from clients and handles high-level
// session logic. Messages are received from the pool of workers.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			s.handleMessage(message)
		}
	}
}

func (s *Server) handleMessage(message ClientMessage) {
	switch m := message.message.(type) {
	case NewOrderMessage:
		if err := s.bindUser(message.clientAddress, m.Username); err != nil {
			s.reportError(message.clientAddress, err)
			return
		}
		if err := s.queue.EnqueueUserOrder(m.Username, m.Order()); err != nil {
			s.reportError(message.clientAddress, err)
			return
		}
		log.Debug().
			Str("user", m.Username).
			Stringer("side", m.Side).
			Stringer("type", m.OrderType).
			Uint64("quantity", m.Quantity).
			Float64("price", m.LimitPrice).
			Msg("order queued")
	default:
		log.Trace().Str("address", message.clientAddress).Msg("heartbeat")
	}
}

func (s *Server) reportError(address string, err error) {
	log.Debug().Err(err).Str("address", address).Msg("rejecting client message")
	if err := s.Report(address, generateWireErrorReport(err)); err != nil {
		log.Error().Err(err).Str("address", address).Msg("unable to send error report")
	}
}

// handleConnection is a short-lived worker method which reads the next message off the
// session, parses and passes it forward to sessionHandler to handle it. If nothing
// arrives in time the session is queued again; if the connection dies the session
// is cleaned up.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}
	address := session.conn.RemoteAddr().String()

	select {
	case <-t.Dying():
		return nil
	default:
	}

	payload, err := readFrame(session)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.pool.AddTask(t, session)
			return nil
		}
		if !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("address", address).Msg("error reading from connection")
		}
		s.deleteClientSession(address)
		return nil
	}

	message, err := parseMessage(payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("address", address).
			Msg("error parsing message")
		s.reportError(address, err)
	} else {
		s.clientSessionsLock.Lock()
		session.lastSeen = time.Now()
		s.clientSessionsLock.Unlock()

		// Pass over to the message handling buffer.
		select {
		case s.clientMessages <- ClientMessage{message: message, clientAddress: address}:
		case <-t.Dying():
			return nil
		}
	}

	// Push the session back to handle the next message.
	s.pool.AddTask(t, session)
	return nil
}

// readFrame waits briefly for a frame to start, then reads all of it.
func readFrame(session *ClientSession) ([]byte, error) {
	if err := session.conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		return nil, err
	}
	header, err := session.reader.Peek(FrameHeaderLen)
	if err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(header))
	if n > MAX_RECV_SIZE {
		return nil, ErrMessageTooLong
	}

	if err := session.conn.SetReadDeadline(time.Now().Add(defaultReadTimeout)); err != nil {
		return nil, err
	}
	frame := make([]byte, FrameHeaderLen+n)
	if _, err := io.ReadFull(session.reader, frame); err != nil {
		return nil, err
	}
	return frame[FrameHeaderLen:], nil
}

// bindUser ties username to the session at address. A username belongs to
// one live session at a time.
func (s *Server) bindUser(address, username string) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	if owner, ok := s.users[username]; ok && owner != address {
		if _, live := s.clientSessions[owner]; live {
			return fmt.Errorf("%w: %s", ErrUsernameTaken, username)
		}
	}
	session, ok := s.clientSessions[address]
	if !ok {
		return ErrClientDoesNotExist
	}
	session.username = username
	s.users[username] = address
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session := &ClientSession{
		conn:     conn,
		reader:   bufio.NewReaderSize(conn, MAX_RECV_SIZE+FrameHeaderLen),
		lastSeen: time.Now(),
	}
	s.clientSessions[conn.RemoteAddr().String()] = session
	return session
}

// deleteClientSession is an atomic map remove; it also closes the connection.
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session, ok := s.clientSessions[address]
	if !ok {
		return
	}
	if session.username != "" && s.users[session.username] == address {
		delete(s.users, session.username)
	}
	delete(s.clientSessions, address)
	if err := session.conn.Close(); err != nil {
		log.Debug().Err(err).Str("address", address).Msg("unable to close connection")
	}
	log.Info().Str("address", address).Msg("client session closed")
}

func (s *Server) closeAllSessions() {
	s.clientSessionsLock.Lock()
	addresses := make([]string, 0, len(s.clientSessions))
	for address := range s.clientSessions {
		addresses = append(addresses, address)
	}
	s.clientSessionsLock.Unlock()

	for _, address := range addresses {
		s.deleteClientSession(address)
	}
}
