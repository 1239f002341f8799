// Package health tracks node reachability for hinted handoff.
//
// A Monitor probes every node on an interval. Nodes move Alive -> Suspect
// after going unseen for the suspect timeout and Suspect -> Dead after the
// dead timeout. A successful probe makes any node Alive again; if it was
// Suspect or Dead the recovery callback fires, which is what triggers hint
// replay. Membership is fixed: the monitor never adds or removes nodes.
package health
