/*
Package probes implements dependency probes for the coordinator's health
checks.

A Prober checks one external collaborator (cache, database, object
storage, peer service) and reports a pass/warn/fail Check with measured
latency. Three probe types ship with Warden:

  - HTTP: GET against a health endpoint; non-2xx/3xx fails, slow warns
  - TCP: connection attempt against an address
  - Store: read against the persistence collaborator

Probes are declared in the fleet topology file and constructed via
FromFleet.
*/
package probes
