// Package client is the Redoubt console Go SDK.
//
// It provides everything an integration needs to work incidents against a
// Redoubt console: authenticating, driving the response lifecycle, recording
// tamper-evident evidence, and exporting chains for auditors — all in one
// coherent API.
//
// # Connecting and authenticating
//
// Log in with console credentials; the session token is stored on the client
// and attached to every later call:
//
//	c, err := client.New("https://console.redoubt.example")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	session, err := c.Login(ctx, "dana@example.com", password)
//
// Automation that already holds a token skips the login round-trip:
//
//	c, _ := client.New(consoleURL, client.WithToken(os.Getenv("REDOUBT_TOKEN")))
//
// After 'redoubt login', the CLI's saved session can be reused directly:
//
//	c, err := client.NewFromSessionFile(os.ExpandEnv("$HOME/.redoubt/session.json"))
//
// # Working an incident
//
// Incidents move through the response phases detection, analysis,
// containment, eradication, recovery, and post_incident. Every lifecycle
// action is recorded in the incident's evidence chain automatically:
//
//	inc, _ := c.CreateIncident(ctx, client.CreateIncidentRequest{
//	    Title:    "Phishing campaign against finance",
//	    Severity: "high",
//	})
//	inc, _ = c.AdvancePhase(ctx, inc.ID, "containment", "Mailbox rules removed")
//	inc, _ = c.CloseIncident(ctx, inc.ID, "Credentials rotated, no data exfiltrated")
//
// Lookup accepts the UUID or the human-facing INC- reference:
//
//	inc, err := c.Incident(ctx, "INC-7K2M9QA")
//
// # Recording evidence
//
// AppendEvidence seals an entry onto the tip of the chain. Each entry's hash
// covers its content and the previous entry's hash, so the chain cannot be
// edited or reordered after the fact:
//
//	entry, _ := c.AppendEvidence(ctx, inc.ID, client.AppendEvidenceRequest{
//	    Type:        "artifact",
//	    Description: "Mail gateway logs for the sender domain",
//	    Metadata:    map[string]string{"sha256": artifactDigest},
//	})
//	fmt.Println(entry.Hash)
//
// # Verifying and exporting the chain
//
// Verification recomputes every hash server-side. A broken chain is a
// result, not an error:
//
//	result, _ := c.VerifyEvidence(ctx, inc.ID)
//	if !result.Valid {
//	    fmt.Printf("chain broken at %d: %s\n", *result.FirstBrokenSequence, result.Reason)
//	}
//
// ExportEvidence renders the chain for hand-off; write the bytes straight
// to disk:
//
//	doc, _ := c.ExportEvidence(ctx, inc.ID, "text")
//	os.WriteFile("chain.txt", doc, 0o644)
//
// # Decision support
//
// Decision trees walk a responder through triage one question at a time.
// Answer by option label; a terminal answer completes the run and seals the
// recommendation into the incident's chain:
//
//	state, _ := c.StartRun(ctx, treeID, inc.ID)
//	for state.Node != nil {
//	    fmt.Println(state.Node.Question)
//	    state, _ = c.AnswerRun(ctx, state.Run.ID, pickOption(state.Node))
//	}
//	fmt.Println(state.Run.Recommendation)
//
// # Webhooks
//
// Subscriptions push incident events to an external URL, signed with a
// per-subscription secret:
//
//	hook, secret, _ := c.CreateWebhook(ctx, "https://siem.example.com/hook",
//	    []string{"incident.created", "chain.verification_failed"})
//	// Store secret securely — it is not retrievable afterwards.
package client
