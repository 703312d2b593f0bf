package http

// Example WebSocket client usage (JavaScript/TypeScript)
//
// Connection:
//   const ws = new WebSocket('ws://localhost:8082/api/v1/ws/events');
//
// The first message is always the current state:
//   {
//     "type": "workflow.state",
//     "data": {
//       "risk_level": "medium",
//       "ticker_input": "AAPL, MSFT",
//       "recommended_tickers": [],
//       "price_history": [],
//       "status": "idle",
//       "updated_at": "2026-01-05T10:30:00Z"
//     },
//     "timestamp": "2026-01-05T10:30:00Z"
//   }
//
// Every later state change is broadcast the same way. A form shows
// "Optimizing..." and disables its buttons while data.status is "pending":
//
//   ws.onmessage = (event) => {
//     const message = JSON.parse(event.data);
//     if (message.type !== 'workflow.state') return;
//
//     const state = message.data;
//     optimizeButton.disabled = state.status === 'pending';
//     optimizeButton.textContent =
//       state.status === 'pending' && state.operation === 'optimize'
//         ? 'Optimizing...'
//         : 'Optimize';
//     errorBanner.textContent = state.error_message || '';
//     tickerInput.value = state.ticker_input;
//   };
//
// Lifecycle events use their routing keys as type:
//   workflow.optimize.started / succeeded / failed
//   workflow.recommend.started / succeeded / failed
//
// Subscribe to a subset (an empty subscription set receives everything):
//   ws.send(JSON.stringify({
//     action: 'subscribe',
//     event_types: ['workflow.state', 'workflow.optimize.failed']
//   }));
//
//   ws.send(JSON.stringify({
//     action: 'unsubscribe',
//     event_types: ['workflow.optimize.failed']
//   }));
//
// Keepalive: the server sends ping frames every 54s. Clients that cannot
// answer frames may send the text "ping" and receive "pong".
