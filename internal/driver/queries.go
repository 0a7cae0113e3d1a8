package driver

const (
	UpsertItemQuery = `
		MERGE (i:Item {uuid: $uuid})
		SET i.workspace_id = $workspace_id,
			i.item_type = $item_type,
			i.remote_id = $remote_id,
			i.fields = $fields,
			i.fill_score = $fill_score,
			i.similarity_checked = $similarity_checked,
			i.dup_checked = $dup_checked,
			i.merged_into = $merged_into,
			i.merged_at = $merged_at,
			i.created_at = $created_at
		RETURN i.uuid AS uuid
	`

	GetItemQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, uuid: $uuid})
		RETURN i
	`

	GetItemByRemoteIDQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, item_type: $item_type, remote_id: $remote_id})
		RETURN i
	`

	GetItemsQuery = `
		MATCH (i:Item {workspace_id: $workspace_id})
		WHERE i.uuid IN $uuids
		RETURN i
	`

	UncheckedPageQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, item_type: $item_type})
		WHERE i.similarity_checked = false AND i.merged_into = "" AND i.remote_id > $after
		RETURN i
		ORDER BY i.remote_id ASC
		LIMIT $limit
	`

	InstalledPageQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, item_type: $item_type})
		WHERE i.similarity_checked = true AND i.merged_into = "" AND i.remote_id > $after
		RETURN i
		ORDER BY i.remote_id ASC
		LIMIT $limit
	`

	ActivePageQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, item_type: $item_type})
		WHERE i.merged_into = "" AND i.remote_id > $after
		RETURN i
		ORDER BY i.remote_id ASC
		LIMIT $limit
	`

	SetSimilarityCheckedQuery = `
		MATCH (i:Item {workspace_id: $workspace_id})
		WHERE i.uuid IN $uuids
		SET i.similarity_checked = $checked
	`

	SetDupCheckedQuery = `
		MATCH (i:Item {workspace_id: $workspace_id})
		WHERE i.uuid IN $uuids
		SET i.dup_checked = $checked
	`

	NextDupUncheckedQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, item_type: $item_type})
		WHERE i.dup_checked = false AND i.merged_into = ""
		RETURN i
		ORDER BY i.fill_score DESC, i.remote_id ASC
		LIMIT 1
	`

	CountDupUncheckedQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, item_type: $item_type})
		WHERE i.dup_checked = false AND i.merged_into = ""
		RETURN count(i) AS n
	`

	MarkMergedQuery = `
		MATCH (i:Item {workspace_id: $workspace_id, uuid: $uuid})
		SET i.merged_into = $merged_into,
			i.merged_at = $merged_at
		RETURN i.uuid AS uuid
	`

	UpsertEdgeQuery = `
		MATCH (a:Item {workspace_id: $workspace_id, uuid: $item_a})
		MATCH (b:Item {workspace_id: $workspace_id, uuid: $item_b})
		MERGE (a)-[e:SIMILAR {field_id: $field_id}]->(b)
		SET e.workspace_id = $workspace_id,
			e.item_type = $item_type,
			e.value_a = $value_a,
			e.value_b = $value_b,
			e.tier = $tier
		RETURN e.field_id AS field_id
	`

	EdgesForItemQuery = `
		MATCH (a:Item {workspace_id: $workspace_id, uuid: $uuid})-[e:SIMILAR]-(b:Item)
		RETURN startNode(e).uuid AS item_a, endNode(e).uuid AS item_b,
			e.field_id AS field_id, e.value_a AS value_a, e.value_b AS value_b,
			e.tier AS tier, e.item_type AS item_type
	`

	DeleteEdgesForItemQuery = `
		MATCH (a:Item {workspace_id: $workspace_id, uuid: $uuid})-[e:SIMILAR]-()
		DELETE e
	`

	DeleteAllEdgesQuery = `
		MATCH (:Item {workspace_id: $workspace_id})-[e:SIMILAR]->()
		DELETE e
	`

	SaveStackQuery = `
		MERGE (s:DupStack {uuid: $uuid})
		SET s.workspace_id = $workspace_id,
			s.item_type = $item_type,
			s.created_at = $created_at
		RETURN s.uuid AS uuid
	`

	ClearStackMembersQuery = `
		MATCH (s:DupStack {workspace_id: $workspace_id, uuid: $uuid})-[r:HAS_MEMBER]->()
		DELETE r
	`

	AddStackMemberQuery = `
		MATCH (s:DupStack {workspace_id: $workspace_id, uuid: $uuid})
		MATCH (i:Item {workspace_id: $workspace_id, uuid: $item_uuid})
		MERGE (s)-[r:HAS_MEMBER]->(i)
		SET r.role = $role
		RETURN r.role AS role
	`

	GetStackQuery = `
		MATCH (s:DupStack {workspace_id: $workspace_id, uuid: $uuid})
		OPTIONAL MATCH (s)-[r:HAS_MEMBER]->(i:Item)
		RETURN s.uuid AS uuid, s.item_type AS item_type, s.created_at AS created_at,
			collect({item_uuid: i.uuid, role: r.role}) AS members
	`

	StackForItemQuery = `
		MATCH (s:DupStack {workspace_id: $workspace_id})-[:HAS_MEMBER]->(:Item {uuid: $item_uuid})
		OPTIONAL MATCH (s)-[r:HAS_MEMBER]->(i:Item)
		RETURN s.uuid AS uuid, s.item_type AS item_type, s.created_at AS created_at,
			collect({item_uuid: i.uuid, role: r.role}) AS members
		LIMIT 1
	`

	ListStacksQuery = `
		MATCH (s:DupStack {workspace_id: $workspace_id})
		OPTIONAL MATCH (s)-[r:HAS_MEMBER]->(i:Item)
		RETURN s.uuid AS uuid, s.item_type AS item_type, s.created_at AS created_at,
			collect({item_uuid: i.uuid, role: r.role}) AS members
		ORDER BY s.uuid ASC
	`

	DeleteStackQuery = `
		MATCH (s:DupStack {workspace_id: $workspace_id, uuid: $uuid})
		DETACH DELETE s
	`

	DeleteAllStacksQuery = `
		MATCH (s:DupStack {workspace_id: $workspace_id})
		DETACH DELETE s
	`

	SaveOperationQuery = `
		MERGE (o:Operation {workspace_id: $workspace_id, phase: $phase})
		SET o.status = $status,
			o.done = $done,
			o.total = $total,
			o.error = $error,
			o.updated_at = $updated_at
		RETURN o.phase AS phase
	`

	GetOperationQuery = `
		MATCH (o:Operation {workspace_id: $workspace_id, phase: $phase})
		RETURN o.status AS status, o.done AS done, o.total AS total,
			o.error AS error, o.updated_at AS updated_at
	`

	IncrementProgressQuery = `
		MERGE (o:Operation {workspace_id: $workspace_id, phase: $phase})
		ON CREATE SET o.status = "RUNNING", o.done = 0, o.total = 0, o.error = ""
		SET o.done = o.done + $done_delta,
			o.total = o.total + $total_delta,
			o.updated_at = $updated_at
		RETURN o.status AS status, o.done AS done, o.total AS total,
			o.error AS error, o.updated_at AS updated_at
	`

	ResetItemFlagsQuery = `
		MATCH (i:Item {workspace_id: $workspace_id})
		SET i.similarity_checked = false,
			i.dup_checked = false
	`

	DeleteOperationsQuery = `
		MATCH (o:Operation {workspace_id: $workspace_id})
		DELETE o
	`
)
